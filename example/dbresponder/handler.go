// Package dbresponder is an example FastCGI Responder handler that
// answers HTTP-ish requests by querying a SQL database, the way a
// PHP-FPI application backed by a database would. It exists to give
// cmd/fcgid something real to serve and to exercise the MySQL and
// Postgres drivers against SCRIPT_NAME-routed queries.
package dbresponder

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	fastcgi "github.com/mickamy/fastcgi"
)

// Driver names accepted by Open, matching the go.mod-registered
// database/sql drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "pgx"
)

// Handler answers Responder requests by running a query chosen from
// the request's SCRIPT_NAME (falling back to DOCUMENT_URI) against db.
type Handler struct {
	db      *sql.DB
	driver  string
	timeout time.Duration
}

// Open connects to driver/dsn and pings it, returning a Handler whose
// Handle method can be passed to Request.Serve as a fastcgi.Handler.
func Open(ctx context.Context, driver, dsn string) (*Handler, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("dbresponder: open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dbresponder: ping %s: %w", driver, err)
	}
	return &Handler{db: db, driver: driver, timeout: 5 * time.Second}, nil
}

// listUsersQuery returns the SELECT used by listUsers, in the
// placeholder style the configured driver expects.
func (h *Handler) listUsersQuery() string {
	if h.driver == DriverPostgres {
		return "SELECT id, name, email FROM users ORDER BY id LIMIT $1"
	}
	return "SELECT id, name, email FROM users ORDER BY id LIMIT ?"
}

// Close releases the underlying database connection pool.
func (h *Handler) Close() error { return h.db.Close() }

// Handle implements fastcgi.Handler. It routes on SCRIPT_NAME (falling
// back to DOCUMENT_URI) and writes a CGI-style response: status line,
// headers, a blank line, then a JSON body.
func (h *Handler) Handle(ctx context.Context, req *fastcgi.Request) fastcgi.RequestResult {
	path, _ := req.GetParam("SCRIPT_NAME")
	if path == "" {
		path, _ = req.GetParam("DOCUMENT_URI")
	}

	qctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		body       any
		statusLine = "200 OK"
		err        error
	)
	switch {
	case path == "/users" || strings.HasPrefix(path, "/users/"):
		body, err = h.listUsers(qctx, req)
	case path == "/healthz":
		body, err = h.health(qctx)
	default:
		statusLine = "404 Not Found"
		body = map[string]string{"error": "no route for " + path}
	}
	if err != nil {
		return h.writeError(req, err)
	}

	if werr := writeJSON(req, statusLine, body); werr != nil {
		return fastcgi.HandlerError(werr)
	}
	return fastcgi.Complete(0)
}

func (h *Handler) writeError(req *fastcgi.Request, err error) fastcgi.RequestResult {
	fmt.Fprintf(req.Stderr(), "dbresponder: %v\n", err)
	_ = writeJSON(req, "500 Internal Server Error", map[string]string{"error": err.Error()})
	return fastcgi.HandlerError(err)
}

func (h *Handler) health(ctx context.Context) (any, error) {
	if err := h.db.PingContext(ctx); err != nil {
		return nil, err
	}
	return map[string]string{"status": "ok"}, nil
}

type user struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (h *Handler) listUsers(ctx context.Context, req *fastcgi.Request) (any, error) {
	limit := 20
	if q, ok := req.GetParam("QUERY_STRING"); ok && strings.Contains(q, "limit=") {
		fmt.Sscanf(q[strings.Index(q, "limit=")+len("limit="):], "%d", &limit)
	}

	rows, err := h.db.QueryContext(ctx, h.listUsersQuery(), limit)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	users := make([]user, 0, limit)
	for rows.Next() {
		var u user
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func writeJSON(req *fastcgi.Request, statusLine string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	w := req.Stdout()
	if _, err := fmt.Fprintf(w, "Status: %s\r\nContent-Type: application/json\r\n\r\n", statusLine); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}
