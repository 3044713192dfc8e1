package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gaspipe/docvault/pkg/access"
	"github.com/gaspipe/docvault/pkg/observability"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ScopeResolver returns the services a user can see documents through
type ScopeResolver interface {
	VisibleServiceIDs(ctx context.Context, userID int64) ([]int64, error)
}

// Service runs document searches
type Service struct {
	db      *sql.DB
	scope   ScopeResolver
	cfg     Config
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// NewService creates a search service. metrics may be nil.
func NewService(db *sql.DB, scope ScopeResolver, cfg Config, metrics *observability.Metrics) *Service {
	return &Service{
		db:      db,
		scope:   scope,
		cfg:     cfg,
		metrics: metrics,
		tracer:  otel.Tracer("github.com/gaspipe/docvault/pkg/search"),
	}
}

// Placeholders $1..$5 are fixed; facets are numbered after them.
//
//	$1 scope  $2 language  $3 query  $4 similarity threshold  $5 LIKE pattern
const (
	queryCTE = `WITH q AS (
		SELECT plainto_tsquery($2::regconfig, $3) AS tsq,
		       numnode(plainto_tsquery($2::regconfig, $3)) > 0 AS fts
	)`

	matchClause = `CASE WHEN q.fts THEN d.search_vector @@ q.tsq
		ELSE (similarity(d.name, $3) > $4 OR d.name ILIKE $5 OR d.file_name ILIKE $5) END`

	resultColumns = `d.id, d.name, d.file_name, d.category_id, d.umg_id, d.object_id, d.version, d.tags,
		d.created_at, d.updated_at,
		CASE WHEN q.fts THEN ts_rank_cd(d.search_vector, q.tsq) ELSE similarity(d.name, $3) END AS rank,
		CASE WHEN q.fts THEN ts_headline($2::regconfig, COALESCE(NULLIF(d.text_content, ''), d.name), q.tsq,
			'MaxFragments=3, MaxWords=30, MinWords=10')
		ELSE d.name END AS excerpt`
)

// filter is the WHERE clause shared by search and count
type filter struct {
	conditions []string
	args       []interface{}
}

func (f *filter) bind(v interface{}) string {
	f.args = append(f.args, v)
	return fmt.Sprintf("$%d", len(f.args))
}

func (f *filter) where() string {
	return strings.Join(f.conditions, "\n\t\tAND ")
}

func (s *Service) buildFilter(req Request, q string, scope []int64) *filter {
	f := &filter{
		args: []interface{}{
			access.ScopeArg(scope),
			s.cfg.Language,
			q,
			s.cfg.SimilarityThreshold,
			"%" + escapeLike(q) + "%",
		},
	}
	f.conditions = []string{access.DocumentScope(1), matchClause}

	if req.CategoryID != nil {
		f.conditions = append(f.conditions, "d.category_id = "+f.bind(*req.CategoryID))
	}
	if req.ObjectID != nil {
		f.conditions = append(f.conditions, "d.object_id = "+f.bind(*req.ObjectID))
	}
	if req.DateFrom != nil && req.DateTo != nil {
		from := f.bind(*req.DateFrom)
		to := f.bind(*req.DateTo)
		f.conditions = append(f.conditions, fmt.Sprintf("d.created_at BETWEEN %s AND %s", from, to))
	}
	if tags := normalizeTags(req.Tags); len(tags) > 0 {
		f.conditions = append(f.conditions, "d.tags && "+f.bind(pq.Array(tags))+"::text[]")
	}
	return f
}

func (s *Service) page(req Request) (limit, offset int) {
	limit, offset = req.Limit, req.Offset
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if s.cfg.MaxLimit > 0 && limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// prepare sanitizes the query and resolves the caller's scope. run is false
// when the search cannot match anything and the database is not consulted.
func (s *Service) prepare(ctx context.Context, span trace.Span, req Request) (q string, scope []int64, run bool, err error) {
	q = Sanitize(req.Query)
	span.SetAttributes(attribute.Int("search.query_length", len([]rune(q))))
	if !searchable(q) {
		s.record("short_query")
		return q, nil, false, nil
	}

	scope, err = s.scope.VisibleServiceIDs(ctx, req.UserID)
	if err != nil {
		return q, nil, false, fmt.Errorf("failed to resolve scope: %w", err)
	}
	if len(scope) == 0 {
		s.record("empty_scope")
		return q, nil, false, nil
	}
	return q, scope, true, nil
}

// SearchDocuments returns one page of the caller's matching documents,
// best match first
func (s *Service) SearchDocuments(ctx context.Context, req Request) (*Response, error) {
	ctx, span := s.tracer.Start(ctx, "search.SearchDocuments", trace.WithAttributes(
		attribute.Int64("user.id", req.UserID),
	))
	defer span.End()
	defer s.observe("search", time.Now())

	limit, offset := s.page(req)
	resp := &Response{Results: []Result{}, Limit: limit, Offset: offset}

	q, scope, run, err := s.prepare(ctx, span, req)
	resp.Query = q
	if err != nil {
		return nil, s.fail(span, err)
	}
	if !run {
		return resp, nil
	}

	f := s.buildFilter(req, q, scope)
	query := fmt.Sprintf(`%s
		SELECT %s
		FROM documents d CROSS JOIN q
		WHERE %s
		ORDER BY rank DESC, d.created_at DESC, d.id DESC
		LIMIT %s OFFSET %s`,
		queryCTE, resultColumns, f.where(), f.bind(limit), f.bind(offset))

	rows, err := s.db.QueryContext(ctx, query, f.args...)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("failed to search documents: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r        Result
			objectID sql.NullInt64
			tags     pq.StringArray
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.FileName, &r.CategoryID, &r.UmgID, &objectID, &r.Version, &tags,
			&r.CreatedAt, &r.UpdatedAt, &r.Rank, &r.Excerpt); err != nil {
			return nil, s.fail(span, fmt.Errorf("failed to scan search result: %w", err))
		}
		if objectID.Valid {
			r.ObjectID = &objectID.Int64
		}
		r.Tags = []string(tags)
		if r.Tags == nil {
			r.Tags = []string{}
		}
		resp.Results = append(resp.Results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(span, fmt.Errorf("failed to read search results: %w", err))
	}

	s.record("ok")
	span.SetAttributes(attribute.Int("search.results", len(resp.Results)))
	return resp, nil
}

// SearchDocumentsCount returns how many documents SearchDocuments would
// match without paging
func (s *Service) SearchDocumentsCount(ctx context.Context, req Request) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "search.SearchDocumentsCount", trace.WithAttributes(
		attribute.Int64("user.id", req.UserID),
	))
	defer span.End()
	defer s.observe("count", time.Now())

	q, scope, run, err := s.prepare(ctx, span, req)
	if err != nil {
		return 0, s.fail(span, err)
	}
	if !run {
		return 0, nil
	}

	f := s.buildFilter(req, q, scope)
	query := fmt.Sprintf(`%s
		SELECT COUNT(DISTINCT d.id)
		FROM documents d CROSS JOIN q
		WHERE %s`, queryCTE, f.where())

	var total int64
	if err := s.db.QueryRowContext(ctx, query, f.args...).Scan(&total); err != nil {
		return 0, s.fail(span, fmt.Errorf("failed to count search results: %w", err))
	}
	s.record("ok")
	span.SetAttributes(attribute.Int64("search.total", total))
	return total, nil
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "search failed")
	s.record("error")
	return err
}

func (s *Service) record(outcome string) {
	if s.metrics != nil {
		s.metrics.SearchRequestsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) observe(operation string, start time.Time) {
	if s.metrics != nil {
		s.metrics.SearchDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
