// Package author は著者カタログのドメインロジックを提供する。
package author

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/locallibrary/internal/metrics"
	"github.com/hitoshi/locallibrary/internal/model"
	"github.com/hitoshi/locallibrary/internal/repository"
	"github.com/hitoshi/locallibrary/internal/security"
)

// maxNameLength は姓・名それぞれの最大文字数。
const maxNameLength = 100

// メトリクスのoperationラベル
const (
	opListAuthors = "list_authors"
	opFindAuthor  = "find_author"
	opCreate      = "create_author"
)

// CreateAuthorInput は著者作成の入力。
type CreateAuthorInput struct {
	FirstName   string
	FamilyName  string
	DateOfBirth *time.Time
	DateOfDeath *time.Time
}

// Service は著者の一覧・参照・作成を扱うサービス層。
type Service struct {
	repo      repository.AuthorRepository
	sanitizer security.InputSanitizer
	metrics   metrics.MetricsCollector
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewService(
	repo repository.AuthorRepository,
	sanitizer security.InputSanitizer,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		metrics:   collector,
		now:       time.Now,
	}
}

// ListAuthors は全著者を姓・名の昇順で取得し、一覧用の表現に変換する。
// 著者が存在しない場合は空スライスを返す。
func (s *Service) ListAuthors(ctx context.Context) ([]model.Author, error) {
	start := s.now()
	records, err := s.repo.ListOrderedByFamilyName(ctx)
	s.metrics.RecordQueryLatency(opListAuthors, s.now().Sub(start))
	if err != nil {
		return nil, fmt.Errorf("著者一覧の取得に失敗しました: %w", err)
	}

	authors := make([]model.Author, 0, len(records))
	for _, r := range records {
		authors = append(authors, r.ToAuthor())
	}
	return authors, nil
}

// GetAuthor は指定IDの著者を取得する。
// UUIDとして不正なIDや存在しないIDはAUTHOR_NOT_FOUNDを返す。
func (s *Service) GetAuthor(ctx context.Context, id string) (*model.AuthorRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewAuthorNotFoundError(id)
	}

	start := s.now()
	record, err := s.repo.FindByID(ctx, id)
	s.metrics.RecordQueryLatency(opFindAuthor, s.now().Sub(start))
	if err != nil {
		return nil, fmt.Errorf("著者の取得に失敗しました: %w", err)
	}
	if record == nil {
		return nil, model.NewAuthorNotFoundError(id)
	}
	return record, nil
}

// CreateAuthor は入力をサニタイズ・検証した上で著者を作成する。
func (s *Service) CreateAuthor(ctx context.Context, input CreateAuthorInput) (*model.AuthorRecord, error) {
	firstName := s.sanitizer.SanitizeText(input.FirstName)
	familyName := s.sanitizer.SanitizeText(input.FamilyName)

	now := s.now()
	if err := validate(firstName, familyName, input.DateOfBirth, input.DateOfDeath, now); err != nil {
		return nil, err
	}

	record := &model.AuthorRecord{
		ID:          uuid.New().String(),
		FirstName:   firstName,
		FamilyName:  familyName,
		DateOfBirth: input.DateOfBirth,
		DateOfDeath: input.DateOfDeath,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.repo.Create(ctx, record)
	s.metrics.RecordQueryLatency(opCreate, s.now().Sub(now))
	if err != nil {
		return nil, fmt.Errorf("著者の作成に失敗しました: %w", err)
	}

	s.metrics.RecordAuthorCreated()
	slog.Info("author created",
		slog.String("author_id", record.ID),
		slog.String("name", record.Name()),
	)
	return record, nil
}

// validate は著者入力の検証を行う。
func validate(firstName, familyName string, birth, death *time.Time, now time.Time) error {
	if familyName == "" {
		return model.NewInvalidAuthorError("姓は必須です")
	}
	if utf8.RuneCountInString(familyName) > maxNameLength {
		return model.NewInvalidAuthorError(fmt.Sprintf("姓は%d文字以内で入力してください", maxNameLength))
	}
	if utf8.RuneCountInString(firstName) > maxNameLength {
		return model.NewInvalidAuthorError(fmt.Sprintf("名は%d文字以内で入力してください", maxNameLength))
	}
	if birth != nil && birth.After(now) {
		return model.NewInvalidAuthorError("生年月日が未来の日付です")
	}
	if death != nil && death.After(now) {
		return model.NewInvalidAuthorError("没年月日が未来の日付です")
	}
	if birth != nil && death != nil && death.Before(*birth) {
		return model.NewInvalidAuthorError("没年月日が生年月日より前です")
	}
	return nil
}
