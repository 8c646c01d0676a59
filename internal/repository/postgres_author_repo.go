package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/locallibrary/internal/model"
)

// PostgresAuthorRepo はPostgreSQLを使用した著者リポジトリ。
type PostgresAuthorRepo struct {
	db *sql.DB
}

// NewPostgresAuthorRepo はPostgresAuthorRepoを生成する。
func NewPostgresAuthorRepo(db *sql.DB) *PostgresAuthorRepo {
	return &PostgresAuthorRepo{db: db}
}

// ListOrderedByFamilyName は全著者を姓・名の昇順で取得する。
func (r *PostgresAuthorRepo) ListOrderedByFamilyName(ctx context.Context) ([]*model.AuthorRecord, error) {
	return listAuthors(ctx, r.db)
}

// FindByID は指定IDの著者を取得する。見つからない場合はnilを返す。
func (r *PostgresAuthorRepo) FindByID(ctx context.Context, id string) (*model.AuthorRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+authorColumns+` FROM authors WHERE id = $1`,
		id,
	)

	author, err := scanAuthor(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("著者の取得に失敗しました: %w", err)
	}

	return author, nil
}

// Create は著者を作成する。
func (r *PostgresAuthorRepo) Create(ctx context.Context, author *model.AuthorRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO authors (id, first_name, family_name, date_of_birth, date_of_death, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		author.ID, author.FirstName, author.FamilyName,
		timeArg(author.DateOfBirth), timeArg(author.DateOfDeath),
		author.CreatedAt, author.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("著者の作成に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ AuthorRepository = (*PostgresAuthorRepo)(nil)
