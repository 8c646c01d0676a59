package repository

import (
	"context"

	"github.com/hitoshi/locallibrary/internal/model"
	"github.com/hitoshi/locallibrary/internal/resilience"
)

// BreakerAuthorRepo はAuthorRepositoryの各呼び出しをサーキットブレーカーで保護するデコレータ。
// ブレーカーが開いている間はDBに到達せずresilience.ErrOpenを返す。
type BreakerAuthorRepo struct {
	inner   AuthorRepository
	breaker *resilience.Breaker
}

// NewBreakerAuthorRepo はBreakerAuthorRepoを生成する。
func NewBreakerAuthorRepo(inner AuthorRepository, breaker *resilience.Breaker) *BreakerAuthorRepo {
	return &BreakerAuthorRepo{inner: inner, breaker: breaker}
}

// ListOrderedByFamilyName は全著者を姓・名の昇順で取得する。
func (r *BreakerAuthorRepo) ListOrderedByFamilyName(ctx context.Context) ([]*model.AuthorRecord, error) {
	return resilience.Execute(r.breaker, func() ([]*model.AuthorRecord, error) {
		return r.inner.ListOrderedByFamilyName(ctx)
	})
}

// FindByID は指定IDの著者を取得する。見つからない場合はnilを返す。
func (r *BreakerAuthorRepo) FindByID(ctx context.Context, id string) (*model.AuthorRecord, error) {
	return resilience.Execute(r.breaker, func() (*model.AuthorRecord, error) {
		return r.inner.FindByID(ctx, id)
	})
}

// Create は著者を作成する。
func (r *BreakerAuthorRepo) Create(ctx context.Context, author *model.AuthorRecord) error {
	_, err := resilience.Execute(r.breaker, func() (struct{}, error) {
		return struct{}{}, r.inner.Create(ctx, author)
	})
	return err
}

// compile-time interface check
var _ AuthorRepository = (*BreakerAuthorRepo)(nil)
