// Package resilience はデータベース呼び出しを保護するサーキットブレーカーを提供する。
// github.com/sony/gobreaker をラップし、連続失敗時に呼び出しを即時失敗させる。
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrOpen はブレーカーが開いているため呼び出しを実行しなかったことを示す。
var ErrOpen = gobreaker.ErrOpenState

// Config はサーキットブレーカーの設定を保持する。
type Config struct {
	Name             string        // ログ・メトリクス用の名前
	MaxRequests      uint32        // half-open状態で許可する試行リクエスト数
	Interval         time.Duration // closed状態でカウントをリセットする周期
	Timeout          time.Duration // open状態からhalf-openに移行するまでの時間
	FailureThreshold float64       // openに遷移する失敗率（0.0〜1.0）
	MinRequests      uint32        // 失敗率を評価する最小リクエスト数
}

// DBConfig はデータベース向けのデフォルト設定を返す。
// 5回以上のリクエストがすべて失敗した場合にopenとなる。
func DBConfig(timeout time.Duration) Config {
	return Config{
		Name:             "database",
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          timeout,
		FailureThreshold: 1.0,
		MinRequests:      5,
	}
}

// Breaker はgobreaker.CircuitBreakerのラッパー。
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New は設定からBreakerを生成する。
func New(cfg Config) *Breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		// クライアント切断によるキャンセルはDB障害として数えない
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				slog.String("circuit", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute はブレーカー経由でfnを実行する。
// ブレーカーが開いている場合はfnを呼ばずにErrOpenを返す。
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	v, _ := result.(T)
	return v, nil
}

// State は現在のブレーカー状態を返す。
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// IsOpen はブレーカーが開いているかを返す。
func (b *Breaker) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}
