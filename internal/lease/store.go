package lease

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lion7/dhcpd/internal/hwaddr"
	"github.com/lion7/dhcpd/internal/subnet"
)

// Token is an opaque handle to a record in one of the Transactions or
// PendingLeases pools, returned by Put and required for Get/Delete. Callers
// must not assume anything about its shape beyond string equality.
type Token string

func newToken() Token {
	return Token(uuid.NewString())
}

// ErrNotFound is returned when a pool lookup by token or address misses.
var ErrNotFound = errors.New("lease: no record for the given key")

// TransactionRecord is the Transactions pool's record shape. It is a plain
// projection of the transaction manager's in-memory state, kept separate
// from the txn package's own Transaction type so the store's schema can
// evolve independently of the state machine's representation.
type TransactionRecord struct {
	XID               uint32
	State             string
	Start             time.Time
	PendingLeaseToken Token // empty until bind_lease
}

// Store is the durable key/value facade over the three named pools:
// Transactions, PendingLeases, and Leases (C9). The transaction manager is
// the only caller of the first two and writes Leases on commit; the
// Responder reads, renews and deletes Leases directly.
type Store interface {
	PutTransaction(rec TransactionRecord) (Token, error)
	GetTransaction(token Token) (TransactionRecord, error)
	UpdateTransaction(token Token, rec TransactionRecord) error
	DeleteTransaction(token Token) error

	PutPendingLease(l *Lease) (Token, error)
	GetPendingLease(token Token) (*Lease, error)
	DeletePendingLease(token Token) error

	PutLease(l *Lease) error
	GetLease(addr net.IP) (*Lease, error)
	DeleteLease(addr net.IP) error
	AllLeases() ([]*Lease, error)

	Close() error
}

// SQLiteStore is the concrete Store backend, one table per pool in a single
// SQLite database file. mattn/go-sqlite3 registers the "sqlite3" driver
// used here via database/sql, matching the driver actually vendored by
// this project rather than a pure-Go alternative.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if necessary) the lease database at path
// and ensures all three pool tables exist.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("lease: opening database: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`create table if not exists transactions (
			token text primary key,
			xid integer not null,
			state text not null,
			start integer not null,
			pending_lease_token text not null default ''
		)`,
		`create unique index if not exists idx_transactions_xid on transactions(xid)`,
		`create table if not exists pending_leases (
			token text primary key,
			addr text not null,
			subnet_network integer not null,
			subnet_prefix integer not null,
			t_begin integer not null,
			t_end integer not null,
			hw_addr text not null,
			cid text not null,
			hostname text not null
		)`,
		`create table if not exists leases (
			addr text primary key,
			subnet_network integer not null,
			subnet_prefix integer not null,
			t_begin integer not null,
			t_end integer not null,
			hw_addr text not null,
			cid text not null,
			hostname text not null
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("lease: migration failed: %w", err)
		}
	}
	return nil
}

// Checkpoint issues a best-effort WAL checkpoint. Failures are not fatal:
// the WAL file simply grows until the next successful checkpoint.
func (s *SQLiteStore) Checkpoint() error {
	_, err := s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) PutTransaction(rec TransactionRecord) (Token, error) {
	token := newToken()
	_, err := s.db.Exec(
		`insert into transactions(token, xid, state, start, pending_lease_token) values (?, ?, ?, ?, ?)`,
		string(token), rec.XID, rec.State, rec.Start.Unix(), string(rec.PendingLeaseToken),
	)
	if err != nil {
		return "", fmt.Errorf("lease: storing transaction: %w", err)
	}
	return token, nil
}

func (s *SQLiteStore) GetTransaction(token Token) (TransactionRecord, error) {
	row := s.db.QueryRow(`select xid, state, start, pending_lease_token from transactions where token = ?`, string(token))
	var rec TransactionRecord
	var start int64
	var pendingToken string
	if err := row.Scan(&rec.XID, &rec.State, &start, &pendingToken); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TransactionRecord{}, ErrNotFound
		}
		return TransactionRecord{}, fmt.Errorf("lease: reading transaction: %w", err)
	}
	rec.Start = time.Unix(start, 0).UTC()
	rec.PendingLeaseToken = Token(pendingToken)
	return rec, nil
}

func (s *SQLiteStore) UpdateTransaction(token Token, rec TransactionRecord) error {
	res, err := s.db.Exec(
		`update transactions set xid = ?, state = ?, start = ?, pending_lease_token = ? where token = ?`,
		rec.XID, rec.State, rec.Start.Unix(), string(rec.PendingLeaseToken), string(token),
	)
	if err != nil {
		return fmt.Errorf("lease: updating transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteTransaction(token Token) error {
	_, err := s.db.Exec(`delete from transactions where token = ?`, string(token))
	if err != nil {
		return fmt.Errorf("lease: deleting transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PutPendingLease(l *Lease) (Token, error) {
	token := newToken()
	if err := s.insertLeaseRow("pending_leases", string(token), l); err != nil {
		return "", err
	}
	return token, nil
}

func (s *SQLiteStore) GetPendingLease(token Token) (*Lease, error) {
	row := s.db.QueryRow(`select addr, subnet_network, subnet_prefix, t_begin, t_end, hw_addr, cid, hostname from pending_leases where token = ?`, string(token))
	return scanLease(row)
}

func (s *SQLiteStore) DeletePendingLease(token Token) error {
	_, err := s.db.Exec(`delete from pending_leases where token = ?`, string(token))
	if err != nil {
		return fmt.Errorf("lease: deleting pending lease: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PutLease(l *Lease) error {
	_, err := s.db.Exec(
		`insert or replace into leases(addr, subnet_network, subnet_prefix, t_begin, t_end, hw_addr, cid, hostname) values (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.Addr.String(), l.SubnetRef.Network, l.SubnetRef.Prefix, l.TBegin.Unix(), l.TEnd.Unix(), hex.EncodeToString(l.HWAddr[:]), hex.EncodeToString(l.CID[:]), l.Hostname,
	)
	if err != nil {
		return fmt.Errorf("lease: storing lease: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLease(addr net.IP) (*Lease, error) {
	row := s.db.QueryRow(`select addr, subnet_network, subnet_prefix, t_begin, t_end, hw_addr, cid, hostname from leases where addr = ?`, addr.String())
	return scanLease(row)
}

func (s *SQLiteStore) DeleteLease(addr net.IP) error {
	_, err := s.db.Exec(`delete from leases where addr = ?`, addr.String())
	if err != nil {
		return fmt.Errorf("lease: deleting lease: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AllLeases() ([]*Lease, error) {
	rows, err := s.db.Query(`select addr, subnet_network, subnet_prefix, t_begin, t_end, hw_addr, cid, hostname from leases`)
	if err != nil {
		return nil, fmt.Errorf("lease: listing leases: %w", err)
	}
	defer rows.Close()

	var out []*Lease
	for rows.Next() {
		l, err := scanLeaseRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// insertLeaseRow inserts l into the named lease table under key.
func (s *SQLiteStore) insertLeaseRow(table string, key string, l *Lease) error {
	_, err := s.db.Exec(
		fmt.Sprintf(`insert into %s(token, addr, subnet_network, subnet_prefix, t_begin, t_end, hw_addr, cid, hostname) values (?, ?, ?, ?, ?, ?, ?, ?, ?)`, table),
		key, l.Addr.String(), l.SubnetRef.Network, l.SubnetRef.Prefix, l.TBegin.Unix(), l.TEnd.Unix(), hex.EncodeToString(l.HWAddr[:]), hex.EncodeToString(l.CID[:]), l.Hostname,
	)
	if err != nil {
		return fmt.Errorf("lease: storing pending lease: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLease(row rowScanner) (*Lease, error) {
	return scanLeaseRow(row)
}

func scanLeaseRow(row rowScanner) (*Lease, error) {
	var addrStr, hwStr, cidStr, hostname string
	var network uint32
	var prefix uint8
	var tBegin, tEnd int64

	if err := row.Scan(&addrStr, &network, &prefix, &tBegin, &tEnd, &hwStr, &cidStr, &hostname); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lease: scanning row: %w", err)
	}

	hwBytes, err := hex.DecodeString(hwStr)
	if err != nil {
		return nil, fmt.Errorf("lease: decoding hw_addr: %w", err)
	}
	cidBytes, err := hex.DecodeString(cidStr)
	if err != nil {
		return nil, fmt.Errorf("lease: decoding cid: %w", err)
	}

	return &Lease{
		Addr:      net.ParseIP(addrStr),
		SubnetRef: subnet.CIDR{Network: network, Prefix: prefix},
		TBegin:    time.Unix(tBegin, 0).UTC(),
		TEnd:      time.Unix(tEnd, 0).UTC(),
		HWAddr:    hwaddr.New(hwBytes),
		CID:       hwaddr.New(cidBytes),
		Hostname:  hostname,
	}, nil
}

var _ Store = (*SQLiteStore)(nil)
