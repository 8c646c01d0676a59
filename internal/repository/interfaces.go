// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/locallibrary/internal/model"
)

// AuthorRepository は著者データの永続化インターフェース。
type AuthorRepository interface {
	// ListOrderedByFamilyName は全著者を姓・名の昇順で取得する。
	// 著者が存在しない場合は空スライスを返す。
	ListOrderedByFamilyName(ctx context.Context) ([]*model.AuthorRecord, error)

	// FindByID は指定IDの著者を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.AuthorRecord, error)

	// Create は著者を作成する。
	Create(ctx context.Context, author *model.AuthorRecord) error
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// authorColumns はauthorsテーブルのSELECT対象カラム。scanAuthorの引数順と一致させる。
const authorColumns = `id, first_name, family_name, date_of_birth, date_of_death, created_at, updated_at`

// scanAuthor は1行分の著者データをスキャンする。
func scanAuthor(s rowScanner) (*model.AuthorRecord, error) {
	author := &model.AuthorRecord{}
	var birth, death sql.NullTime

	if err := s.Scan(
		&author.ID, &author.FirstName, &author.FamilyName,
		&birth, &death, &author.CreatedAt, &author.UpdatedAt,
	); err != nil {
		return nil, err
	}

	author.DateOfBirth = nullTimePtr(birth)
	author.DateOfDeath = nullTimePtr(death)
	return author, nil
}

// listAuthorsQuery は姓・名の昇順で全著者を取得する。PostgreSQLとSQLiteで共通。
const listAuthorsQuery = `SELECT ` + authorColumns + `
	FROM authors
	ORDER BY family_name ASC, first_name ASC`

// listAuthors は全著者を姓・名の昇順で取得する。
// 著者が存在しない場合は空スライスを返す。
func listAuthors(ctx context.Context, db *sql.DB) ([]*model.AuthorRecord, error) {
	rows, err := db.QueryContext(ctx, listAuthorsQuery)
	if err != nil {
		return nil, fmt.Errorf("著者一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	authors := []*model.AuthorRecord{}
	for rows.Next() {
		author, err := scanAuthor(rows)
		if err != nil {
			return nil, fmt.Errorf("著者のスキャンに失敗しました: %w", err)
		}
		authors = append(authors, author)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("著者一覧の読み取りに失敗しました: %w", err)
	}

	return authors, nil
}

// nullTimePtr はsql.NullTimeを*time.Timeに変換する。
func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// timeArg は*time.TimeをSQLパラメータに変換する。nilはNULLとして扱う。
func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
