package model

import (
	"strconv"
	"time"
)

// Author は著者一覧で返す著者を表す。
// フィールド順はJSONシリアライズ時の出力順になる。
type Author struct {
	Name     string `json:"name"`     // 「姓, 名」形式の表示名
	Lifetime string `json:"lifetime"` // 生没年（例: "1900-1980", "1900-"）
}

// AuthorRecord はauthorsテーブルの1行を表す。
type AuthorRecord struct {
	ID          string
	FirstName   string
	FamilyName  string
	DateOfBirth *time.Time
	DateOfDeath *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Name は「姓, 名」形式の表示名を返す。名が空の場合は姓のみを返す。
func (a *AuthorRecord) Name() string {
	if a.FirstName == "" {
		return a.FamilyName
	}
	return a.FamilyName + ", " + a.FirstName
}

// Lifetime は生没年の文字列を返す。
// 生年・没年ともにない場合は空文字列を返す。
func (a *AuthorRecord) Lifetime() string {
	if a.DateOfBirth == nil && a.DateOfDeath == nil {
		return ""
	}

	var birth, death string
	if a.DateOfBirth != nil {
		birth = strconv.Itoa(a.DateOfBirth.Year())
	}
	if a.DateOfDeath != nil {
		death = strconv.Itoa(a.DateOfDeath.Year())
	}
	return birth + "-" + death
}

// ToAuthor は一覧表示用のAuthorに変換する。
func (a *AuthorRecord) ToAuthor() Author {
	return Author{
		Name:     a.Name(),
		Lifetime: a.Lifetime(),
	}
}
