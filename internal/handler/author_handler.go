package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/locallibrary/internal/author"
	"github.com/hitoshi/locallibrary/internal/metrics"
	"github.com/hitoshi/locallibrary/internal/middleware"
	"github.com/hitoshi/locallibrary/internal/model"
)

// noAuthorsMessage は一覧が空または取得失敗時に返す本文。
const noAuthorsMessage = "No authors found"

// dateLayout は生没年月日の入出力フォーマット。
const dateLayout = "2006-01-02"

// maxCreateBodyBytes は著者作成リクエストボディの上限サイズ。
const maxCreateBodyBytes = 64 << 10

// AuthorLister は著者一覧を取得する能力。
// 返される順序がそのままレスポンスの順序になる。
type AuthorLister interface {
	ListAuthors(ctx context.Context) ([]model.Author, error)
}

// AuthorServiceInterface は著者ハンドラーが必要とするサービスインターフェース。
type AuthorServiceInterface interface {
	AuthorLister
	// GetAuthor は著者詳細を返す。見つからない場合はAUTHOR_NOT_FOUNDのAPIErrorを返す。
	GetAuthor(ctx context.Context, id string) (*model.AuthorRecord, error)
	// CreateAuthor は著者を検証・作成する。
	CreateAuthor(ctx context.Context, input author.CreateAuthorInput) (*model.AuthorRecord, error)
}

// AuthorHandler は著者カタログのHTTPハンドラー。
// リクエスト間で可変状態を持たない。
type AuthorHandler struct {
	service AuthorServiceInterface
	metrics metrics.MetricsCollector
}

// NewAuthorHandler はAuthorHandlerを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewAuthorHandler(service AuthorServiceInterface, collector metrics.MetricsCollector) *AuthorHandler {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &AuthorHandler{
		service: service,
		metrics: collector,
	}
}

// --- リクエスト/レスポンス型 ---

// authorDetailResponse は著者詳細のレスポンス。
type authorDetailResponse struct {
	ID          string  `json:"id"`
	FirstName   string  `json:"first_name"`
	FamilyName  string  `json:"family_name"`
	Name        string  `json:"name"`
	Lifetime    string  `json:"lifetime"`
	DateOfBirth *string `json:"date_of_birth"`
	DateOfDeath *string `json:"date_of_death"`
}

// createAuthorRequest は著者作成リクエストのボディ。日付はYYYY-MM-DD形式。
type createAuthorRequest struct {
	FirstName   string  `json:"first_name"`
	FamilyName  string  `json:"family_name"`
	DateOfBirth *string `json:"date_of_birth"`
	DateOfDeath *string `json:"date_of_death"`
}

// ListAuthors は著者一覧を返す。
// GET /authors
//
// 一覧が空でなければ200でJSON配列を、空なら200で固定メッセージを、
// 取得に失敗した場合は500で同じ固定メッセージを返す。
func (h *AuthorHandler) ListAuthors(w http.ResponseWriter, r *http.Request) {
	authors, err := h.service.ListAuthors(r.Context())
	if err != nil {
		slog.Error("failed to list authors",
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		h.metrics.RecordAuthorList(metrics.OutcomeError)
		writeNoAuthors(w, http.StatusInternalServerError)
		return
	}

	if len(authors) == 0 {
		h.metrics.RecordAuthorList(metrics.OutcomeEmpty)
		writeNoAuthors(w, http.StatusOK)
		return
	}

	body, err := encodeAuthors(authors)
	if err != nil {
		slog.Error("failed to encode authors", slog.String("error", err.Error()))
		h.metrics.RecordAuthorList(metrics.OutcomeError)
		writeNoAuthors(w, http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAuthorList(metrics.OutcomeFound)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// GetAuthor は著者詳細を返す。
// GET /authors/{id}
func (h *AuthorHandler) GetAuthor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	record, err := h.service.GetAuthor(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuthorDetailResponse(record))
}

// CreateAuthor は著者を作成する。
// POST /authors
func (h *AuthorHandler) CreateAuthor(w http.ResponseWriter, r *http.Request) {
	var req createAuthorRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCreateBodyBytes)).Decode(&req); err != nil {
		middleware.WriteAPIError(w, r, model.NewInvalidRequestError())
		return
	}

	birth, err := parseDate(req.DateOfBirth)
	if err != nil {
		middleware.WriteAPIError(w, r, model.NewInvalidAuthorError("生年月日はYYYY-MM-DD形式で入力してください"))
		return
	}
	death, err := parseDate(req.DateOfDeath)
	if err != nil {
		middleware.WriteAPIError(w, r, model.NewInvalidAuthorError("没年月日はYYYY-MM-DD形式で入力してください"))
		return
	}

	record, err := h.service.CreateAuthor(r.Context(), author.CreateAuthorInput{
		FirstName:   req.FirstName,
		FamilyName:  req.FamilyName,
		DateOfBirth: birth,
		DateOfDeath: death,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Location", "/authors/"+record.ID)
	writeJSON(w, http.StatusCreated, toAuthorDetailResponse(record))
}

// SetupAuthorRoutes は著者関連のルーティングを設定したchi.Routerを返す。
// writeMiddlewareがnilでない場合はPOST /authorsに適用する。
func SetupAuthorRoutes(service AuthorServiceInterface, collector metrics.MetricsCollector, writeMiddleware func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	registerAuthorRoutes(r, NewAuthorHandler(service, collector), writeMiddleware)
	return r
}

// registerAuthorRoutes は著者エンドポイントをルーターに登録する。
func registerAuthorRoutes(r chi.Router, h *AuthorHandler, writeMiddleware func(http.Handler) http.Handler) {
	r.Route("/authors", func(r chi.Router) {
		r.Get("/", h.ListAuthors)
		if writeMiddleware != nil {
			r.With(writeMiddleware).Post("/", h.CreateAuthor)
		} else {
			r.Post("/", h.CreateAuthor)
		}
		r.Get("/{id}", h.GetAuthor)
	})
}

// --- ヘルパー関数 ---

// encodeAuthors は著者一覧をJSON配列にエンコードする。
// HTMLエスケープは行わず、U+2028/U+2029は生の文字のまま出力し、末尾の改行は含めない。
func encodeAuthors(authors []model.Author) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(authors); err != nil {
		return nil, err
	}
	return unescapeLineSeparators(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// lineSeparatorEscapes はencoding/jsonがSetEscapeHTMLに関係なく出力するエスケープ。
var lineSeparatorEscapes = map[string]string{
	`\u2028`: "\u2028",
	`\u2029`: "\u2029",
}

// unescapeLineSeparators はJSON中の\u2028と\u2029を生の文字に戻す。
// エスケープされたバックスラッシュに続く"u2028"はそのまま残す。
func unescapeLineSeparators(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u202`)) {
		return b
	}

	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 == len(b) {
			out = append(out, b[i])
			continue
		}
		if i+6 <= len(b) {
			if raw, ok := lineSeparatorEscapes[string(b[i:i+6])]; ok {
				out = append(out, raw...)
				i += 5
				continue
			}
		}
		out = append(out, b[i], b[i+1])
		i++
	}
	return out
}

// writeNoAuthors は固定メッセージをプレーンテキストで書き込む。
func writeNoAuthors(w http.ResponseWriter, statusCode int) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = io.WriteString(w, noAuthorsMessage)
}

// parseDate はYYYY-MM-DD形式の日付を解析する。nilまたは空文字列はnilを返す。
func parseDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// formatDate は日付をYYYY-MM-DD形式の文字列に変換する。nilはnullとして出力される。
func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}

// toAuthorDetailResponse はmodel.AuthorRecordからAPIレスポンスに変換する。
func toAuthorDetailResponse(a *model.AuthorRecord) authorDetailResponse {
	return authorDetailResponse{
		ID:          a.ID,
		FirstName:   a.FirstName,
		FamilyName:  a.FamilyName,
		Name:        a.Name(),
		Lifetime:    a.Lifetime(),
		DateOfBirth: formatDate(a.DateOfBirth),
		DateOfDeath: formatDate(a.DateOfDeath),
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteAPIError(w, r, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error",
		slog.String("error", err.Error()),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	)
	middleware.WriteInternalServerError(w, r)
}
