package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

var (
	// ErrQueueFull 輸送帶已滿，事件被丟棄
	ErrQueueFull = errors.New("event queue is full")
	// ErrDispatcherClosed Dispatcher 已停止接收事件
	ErrDispatcherClosed = errors.New("event dispatcher is closed")
)

// Sink 事件的實際輸出端 (Kafka / Redis Stream / log)
type Sink interface {
	Send(ctx context.Context, event domain.LedgerEvent) error
	Close() error
}

// Dispatcher 以單一 goroutine 依序把事件送往 Sink
//
// Publish(非阻塞) -> Channel -> Run Loop -> Sink.Send
// 呼叫端不等待送出結果，交易在進入輸送帶前已經提交。
type Dispatcher struct {
	sink   Sink
	logger *zap.Logger
	// 輸送帶
	eventChan chan domain.LedgerEvent
	// 單筆送出逾時
	sendTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher 建立 Dispatcher
//
// 參數:
//
//	sink: 事件輸出端
//	bufferSize: 輸送帶容量，<= 0 時使用 1000
//	logger: 送出失敗時記錄
//
// 回傳:
//
//	*Dispatcher: 尚未啟動的 Dispatcher，需呼叫 Start
func NewDispatcher(sink Sink, bufferSize int, logger *zap.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sink:        sink,
		logger:      logger,
		eventChan:   make(chan domain.LedgerEvent, bufferSize),
		sendTimeout: 5 * time.Second,
		done:        make(chan struct{}),
	}
}

// Publish 把事件放上輸送帶，輸送帶滿時立即回傳 ErrQueueFull
func (d *Dispatcher) Publish(ctx context.Context, event domain.LedgerEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.eventChan <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Start 啟動送出迴圈 (非同步)，ctx 結束後會把剩下的事件送完
func (d *Dispatcher) Start(ctx context.Context) {
	go d.run(ctx)
}

// Wait 等待送出迴圈結束 (drain 完成)
func (d *Dispatcher) Wait() {
	<-d.done
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			// 收到關閉信號：停止接收，把剩下的事件送完
			d.mu.Lock()
			d.closed = true
			d.mu.Unlock()
			d.drain(context.WithoutCancel(ctx))
			return
		case event := <-d.eventChan:
			d.send(ctx, event)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case event := <-d.eventChan:
			d.send(ctx, event)
		default:
			return
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, event domain.LedgerEvent) {
	ctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	if err := d.sink.Send(ctx, event); err != nil {
		d.logger.Error("failed to send ledger event",
			zap.String("type", event.Type),
			zap.Stringer("ref_id", event.TransactionID),
			zap.Error(err),
		)
	}
}

var _ usecase.EventPublisher = (*Dispatcher)(nil)
