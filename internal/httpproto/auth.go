package httpproto

import (
	"context"
	"database/sql"
	"time"

	"github.com/reactorweb/server/internal/audit"
	"github.com/reactorweb/server/internal/dbpool"
	"github.com/reactorweb/server/internal/logging"
)

// DBVerifier implements Verifier against the user table via dbpool,
// grounded on HttpRequest::UserVerify's two query shapes (SELECT to check
// an existing login, SELECT+INSERT to register a new one) and the
// teacher's internal/report/store.go database/sql query style (adapted
// from Postgres $1 placeholders to MySQL's ?).
type DBVerifier struct {
	pool  *dbpool.Pool
	log   *logging.Logger
	audit *audit.Publisher
}

// NewDBVerifier returns a Verifier backed by pool. aud may be nil to
// disable audit publishing.
func NewDBVerifier(pool *dbpool.Pool, log *logging.Logger, aud *audit.Publisher) *DBVerifier {
	return &DBVerifier{pool: pool, log: log, audit: aud}
}

// Verify implements Verifier. On any DB error — including pool exhaustion
// beyond the caller's context deadline — it returns false, matching
// spec.md §7's "DB unavailable ⇒ authentication fails."
func (v *DBVerifier) Verify(ctx context.Context, username, password string, isLogin bool) bool {
	conn, release, err := v.pool.Acquire(ctx)
	if err != nil {
		v.log.Warnf("httpproto: auth: acquire db handle: %v", err)
		v.publish(ctx, isLogin, username, false)
		return false
	}
	defer release()

	var ok bool
	if isLogin {
		ok = v.verifyLogin(ctx, conn, username, password)
	} else {
		ok = v.verifyRegister(ctx, conn, username, password)
	}

	v.publish(ctx, isLogin, username, ok)
	return ok
}

func (v *DBVerifier) verifyLogin(ctx context.Context, conn *sql.Conn, username, password string) bool {
	const query = `SELECT password FROM user WHERE username = ?`
	var stored string
	err := conn.QueryRowContext(ctx, query, username).Scan(&stored)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		v.log.Warnf("httpproto: auth: login query: %v", err)
		return false
	}
	return stored == password
}

func (v *DBVerifier) verifyRegister(ctx context.Context, conn *sql.Conn, username, password string) bool {
	const existsQuery = `SELECT username FROM user WHERE username = ?`
	var existing string
	err := conn.QueryRowContext(ctx, existsQuery, username).Scan(&existing)
	if err == nil {
		return false // already registered
	}
	if err != sql.ErrNoRows {
		v.log.Warnf("httpproto: auth: register exists-check: %v", err)
		return false
	}

	const insertQuery = `INSERT INTO user (username, password) VALUES (?, ?)`
	if _, err := conn.ExecContext(ctx, insertQuery, username, password); err != nil {
		v.log.Warnf("httpproto: auth: register insert: %v", err)
		return false
	}
	return true
}

func (v *DBVerifier) publish(ctx context.Context, isLogin bool, username string, success bool) {
	if v.audit == nil {
		return
	}
	kind := audit.KindRegister
	if isLogin {
		kind = audit.KindLogin
	}
	v.audit.Publish(audit.Event{
		Kind:      kind,
		Username:  username,
		RemoteIP:  RemoteIP(ctx),
		RequestID: RequestID(ctx),
		Success:   success,
		Timestamp: time.Now(),
	})
}
