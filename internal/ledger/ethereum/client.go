package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"Archive-Agents/internal/ledger"
	"Archive-Agents/internal/wallet"
	"Archive-Agents/pkg/logger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// orderBookABI 描述订单簿合约中代理需要的函数与事件。
const orderBookABI = `[
  {"type":"function","name":"postJob","stateMutability":"nonpayable","inputs":[{"name":"description","type":"string"},{"name":"metadataUri","type":"string"},{"name":"tags","type":"string[]"},{"name":"deadline","type":"uint64"}],"outputs":[{"name":"jobId","type":"uint256"}]},
  {"type":"function","name":"placeBid","stateMutability":"nonpayable","inputs":[{"name":"jobId","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"etaSeconds","type":"uint256"},{"name":"metadataUri","type":"string"}],"outputs":[{"name":"bidId","type":"uint256"}]},
  {"type":"function","name":"acceptBid","stateMutability":"nonpayable","inputs":[{"name":"jobId","type":"uint256"},{"name":"bidId","type":"uint256"},{"name":"responseUri","type":"string"}],"outputs":[]},
  {"type":"function","name":"getBidsForJob","stateMutability":"view","inputs":[{"name":"jobId","type":"uint256"}],"outputs":[{"name":"bids","type":"tuple[]","components":[{"name":"bidId","type":"uint256"},{"name":"bidder","type":"address"},{"name":"amount","type":"uint256"},{"name":"etaSeconds","type":"uint256"},{"name":"metadataUri","type":"string"},{"name":"accepted","type":"bool"}]}]},
  {"type":"function","name":"getJob","stateMutability":"view","inputs":[{"name":"jobId","type":"uint256"}],"outputs":[{"name":"job","type":"tuple","components":[{"name":"poster","type":"address"},{"name":"jobType","type":"uint8"},{"name":"budget","type":"uint256"},{"name":"deadline","type":"uint64"},{"name":"description","type":"string"},{"name":"metadataUri","type":"string"}]}]},
  {"type":"event","name":"JobPosted","inputs":[{"name":"jobId","type":"uint256","indexed":true},{"name":"jobType","type":"uint8","indexed":false},{"name":"budget","type":"uint256","indexed":false},{"name":"deadline","type":"uint64","indexed":false},{"name":"description","type":"string","indexed":false}]},
  {"type":"event","name":"BidPlaced","inputs":[{"name":"jobId","type":"uint256","indexed":true},{"name":"bidId","type":"uint256","indexed":true},{"name":"bidder","type":"address","indexed":false},{"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"BidAccepted","inputs":[{"name":"jobId","type":"uint256","indexed":true},{"name":"bidId","type":"uint256","indexed":true},{"name":"worker","type":"address","indexed":false},{"name":"amount","type":"uint256","indexed":false}]}
]`

// Config 描述如何连接订单簿合约所在的 EVM 链。
type Config struct {
	Name             string
	RPCURL           string
	WSURL            string
	OrderBookAddress string
}

// Client 通过 go-ethereum 实现 ledger.Client。
type Client struct {
	name        string
	rpcClient   *gethrpc.Client
	eth         *ethclient.Client
	eventClient logSubscriber
	contract    *bind.BoundContract
	contractABI abi.ABI
	address     common.Address
	signer      *wallet.Wallet
	chainID     *big.Int
	mu          sync.Mutex
}

// logSubscriber 抽象日志订阅所需的最小方法集。
type logSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q gethcore.FilterQuery, ch chan<- coretypes.Log) (gethcore.Subscription, error)
}

// NewClient 连接配置的 RPC 节点并绑定订单簿合约。
func NewClient(ctx context.Context, cfg Config, signer *wallet.Wallet) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	contractAddr := strings.TrimSpace(cfg.OrderBookAddress)
	if contractAddr == "" {
		return nil, errors.New("未配置订单簿合约地址")
	}
	if signer == nil {
		return nil, errors.New("未提供交易签名钱包")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}

	eventClient := logSubscriber(eth)
	if wsURL := strings.TrimSpace(cfg.WSURL); wsURL != "" {
		if wsRPC, wsErr := gethrpc.DialContext(ctx, wsURL); wsErr == nil {
			eventClient = ethclient.NewClient(wsRPC)
		} else {
			logger.L().Warn("连接 WebSocket 节点失败，回退到 HTTP 订阅", "error", wsErr)
		}
	}

	parsed, err := abi.JSON(strings.NewReader(orderBookABI))
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("解析订单簿 ABI 失败: %w", err)
	}

	address := common.HexToAddress(contractAddr)
	return &Client{
		name:        cfg.Name,
		rpcClient:   rpcClient,
		eth:         eth,
		eventClient: eventClient,
		contract:    bind.NewBoundContract(address, parsed, eth, eth, eth),
		contractABI: parsed,
		address:     address,
		signer:      signer,
		chainID:     chainID,
	}, nil
}

// Close 释放客户端持有的网络连接。
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eventClient != nil {
		if ec, ok := c.eventClient.(*ethclient.Client); ok && ec != c.eth {
			ec.Close()
		}
		c.eventClient = nil
	}
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

func (c *Client) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.signer.Key(), c.chainID)
	if err != nil {
		return nil, fmt.Errorf("构造交易签名器失败: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// PostJob 向订单簿提交任务，等待上链后从事件中取回任务 ID。
func (c *Client) PostJob(ctx context.Context, description, metadataURI string, tags []string, deadline int64) (uint64, error) {
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return 0, err
	}
	tx, err := c.contract.Transact(opts, "postJob", description, metadataURI, tags, uint64(deadline))
	if err != nil {
		return 0, fmt.Errorf("提交任务交易失败: %w", err)
	}
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return 0, fmt.Errorf("等待任务交易上链失败: %w", err)
	}
	for _, log := range receipt.Logs {
		if len(log.Topics) > 0 && log.Topics[0] == c.contractABI.Events["JobPosted"].ID {
			var event orderBookJobPosted
			if err := c.contract.UnpackLog(&event, "JobPosted", *log); err != nil {
				return 0, fmt.Errorf("解析 JobPosted 事件失败: %w", err)
			}
			return event.JobId.Uint64(), nil
		}
	}
	return 0, errors.New("任务交易回执中缺少 JobPosted 事件")
}

// PlaceBid 对任务出价，返回链上分配的竞标 ID。
func (c *Client) PlaceBid(ctx context.Context, jobID uint64, amount, etaSeconds uint64, metadataURI string) (uint64, error) {
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return 0, err
	}
	tx, err := c.contract.Transact(opts, "placeBid",
		new(big.Int).SetUint64(jobID),
		new(big.Int).SetUint64(amount),
		new(big.Int).SetUint64(etaSeconds),
		metadataURI)
	if err != nil {
		return 0, fmt.Errorf("提交竞标交易失败: %w", err)
	}
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return 0, fmt.Errorf("等待竞标交易上链失败: %w", err)
	}
	for _, log := range receipt.Logs {
		if len(log.Topics) > 0 && log.Topics[0] == c.contractABI.Events["BidPlaced"].ID {
			var event orderBookBidPlaced
			if err := c.contract.UnpackLog(&event, "BidPlaced", *log); err != nil {
				return 0, fmt.Errorf("解析 BidPlaced 事件失败: %w", err)
			}
			return event.BidId.Uint64(), nil
		}
	}
	return 0, errors.New("竞标交易回执中缺少 BidPlaced 事件")
}

// AcceptBid 接受指定竞标并返回交易哈希。
func (c *Client) AcceptBid(ctx context.Context, jobID, bidID uint64, responseURI string) (string, error) {
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return "", err
	}
	tx, err := c.contract.Transact(opts, "acceptBid",
		new(big.Int).SetUint64(jobID),
		new(big.Int).SetUint64(bidID),
		responseURI)
	if err != nil {
		return "", fmt.Errorf("提交接受竞标交易失败: %w", err)
	}
	if _, err := bind.WaitMined(ctx, c.eth, tx); err != nil {
		return "", fmt.Errorf("等待接受竞标交易上链失败: %w", err)
	}
	return tx.Hash().Hex(), nil
}

// GetBidsForJob 查询任务的全部竞标。
func (c *Client) GetBidsForJob(ctx context.Context, jobID uint64) ([]ledger.Bid, error) {
	var out []any
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getBidsForJob", new(big.Int).SetUint64(jobID))
	if err != nil {
		return nil, fmt.Errorf("查询竞标列表失败: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	raw, ok := out[0].([]struct {
		BidId       *big.Int       `json:"bidId"`
		Bidder      common.Address `json:"bidder"`
		Amount      *big.Int       `json:"amount"`
		EtaSeconds  *big.Int       `json:"etaSeconds"`
		MetadataUri string         `json:"metadataUri"`
		Accepted    bool           `json:"accepted"`
	})
	if !ok {
		return nil, errors.New("竞标列表返回格式不符合预期")
	}
	bids := make([]ledger.Bid, 0, len(raw))
	for _, entry := range raw {
		bids = append(bids, ledger.Bid{
			BidID:       entry.BidId.Uint64(),
			JobID:       jobID,
			Bidder:      entry.Bidder.Hex(),
			Amount:      entry.Amount.Uint64(),
			ETASeconds:  entry.EtaSeconds.Uint64(),
			MetadataURI: entry.MetadataUri,
			Accepted:    entry.Accepted,
		})
	}
	return bids, nil
}

// GetJob 查询任务当前状态。
func (c *Client) GetJob(ctx context.Context, jobID uint64) (ledger.JobState, error) {
	var out []any
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getJob", new(big.Int).SetUint64(jobID))
	if err != nil {
		return ledger.JobState{}, fmt.Errorf("查询任务失败: %w", err)
	}
	if len(out) == 0 {
		return ledger.JobState{}, errors.New("任务查询无返回值")
	}
	raw, ok := out[0].(struct {
		Poster      common.Address `json:"poster"`
		JobType     uint8          `json:"jobType"`
		Budget      *big.Int       `json:"budget"`
		Deadline    uint64         `json:"deadline"`
		Description string         `json:"description"`
		MetadataUri string         `json:"metadataUri"`
	})
	if !ok {
		return ledger.JobState{}, errors.New("任务返回格式不符合预期")
	}
	return ledger.JobState{
		JobID:       jobID,
		Poster:      raw.Poster.Hex(),
		JobType:     ledger.JobType(raw.JobType),
		Budget:      raw.Budget.Uint64(),
		Deadline:    int64(raw.Deadline),
		Description: raw.Description,
		MetadataURI: raw.MetadataUri,
	}, nil
}

// SubscribeJobEvents 订阅合约日志并分发为类型化事件回调。
func (c *Client) SubscribeJobEvents(ctx context.Context, handlers ledger.EventHandlers) (ledger.Subscription, error) {
	subscriber := c.eventClient
	if subscriber == nil {
		return nil, errors.New("当前客户端不支持事件订阅")
	}

	query := gethcore.FilterQuery{
		Addresses: []common.Address{c.address},
		Topics: [][]common.Hash{{
			c.contractABI.Events["JobPosted"].ID,
			c.contractABI.Events["BidAccepted"].ID,
		}},
	}
	logs := make(chan coretypes.Log, 64)
	sub, err := subscriber.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, fmt.Errorf("订阅合约事件失败: %w", err)
	}

	wrapped := &eventSubscription{
		sub:  sub,
		errs: make(chan error, 1),
		done: make(chan struct{}),
	}
	go c.dispatchLogs(logs, sub, wrapped, handlers)
	return wrapped, nil
}

func (c *Client) dispatchLogs(logs <-chan coretypes.Log, sub gethcore.Subscription, wrapped *eventSubscription, handlers ledger.EventHandlers) {
	for {
		select {
		case <-wrapped.done:
			return
		case err := <-sub.Err():
			if err != nil {
				wrapped.fail(err)
			}
			return
		case log := <-logs:
			c.handleLog(log, handlers)
		}
	}
}

func (c *Client) handleLog(log coretypes.Log, handlers ledger.EventHandlers) {
	if len(log.Topics) == 0 {
		return
	}
	switch log.Topics[0] {
	case c.contractABI.Events["JobPosted"].ID:
		var event orderBookJobPosted
		if err := c.contract.UnpackLog(&event, "JobPosted", log); err != nil {
			logger.L().Warn("解析 JobPosted 日志失败", "error", err, "tx_hash", log.TxHash.Hex())
			return
		}
		if handlers.OnJobPosted != nil {
			handlers.OnJobPosted(ledger.JobPosted{
				JobID:       event.JobId.Uint64(),
				JobType:     ledger.JobType(event.JobType),
				Budget:      event.Budget.Uint64(),
				Deadline:    int64(event.Deadline),
				Description: event.Description,
			})
		}
	case c.contractABI.Events["BidAccepted"].ID:
		var event orderBookBidAccepted
		if err := c.contract.UnpackLog(&event, "BidAccepted", log); err != nil {
			logger.L().Warn("解析 BidAccepted 日志失败", "error", err, "tx_hash", log.TxHash.Hex())
			return
		}
		if handlers.OnBidAccepted != nil {
			handlers.OnBidAccepted(ledger.BidAccepted{
				JobID:  event.JobId.Uint64(),
				BidID:  event.BidId.Uint64(),
				Worker: event.Worker.Hex(),
				Amount: event.Amount.Uint64(),
				TxHash: log.TxHash.Hex(),
			})
		}
	}
}

// BalanceAt 查询地址余额，供状态上报使用。
func (c *Client) BalanceAt(ctx context.Context, address string) (*big.Int, error) {
	if c.eth == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	balance, err := c.eth.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	return balance, nil
}

type orderBookJobPosted struct {
	JobId       *big.Int
	JobType     uint8
	Budget      *big.Int
	Deadline    uint64
	Description string
}

type orderBookBidPlaced struct {
	JobId  *big.Int
	BidId  *big.Int
	Bidder common.Address
	Amount *big.Int
}

type orderBookBidAccepted struct {
	JobId  *big.Int
	BidId  *big.Int
	Worker common.Address
	Amount *big.Int
}

type eventSubscription struct {
	sub  gethcore.Subscription
	errs chan error
	once sync.Once
	done chan struct{}
}

func (s *eventSubscription) Err() <-chan error { return s.errs }

func (s *eventSubscription) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func (s *eventSubscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.sub.Unsubscribe()
	})
}

var _ ledger.Client = (*Client)(nil)
