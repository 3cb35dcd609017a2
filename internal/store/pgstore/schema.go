package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
create table if not exists accounts (
	id text primary key,
	balance bigint not null default 0 check (balance >= 0),
	blocked boolean not null default false,
	created_at timestamptz not null,
	updated_at timestamptz not null
);

create table if not exists wallet_transactions (
	id uuid primary key,
	account_id text not null references accounts(id),
	direction text not null check (direction in ('credit','debit')),
	amount bigint not null check (amount > 0),
	balance_after bigint not null check (balance_after >= 0),
	reference_kind text not null,
	reference_id text not null,
	created_at timestamptz not null,
	constraint uniq_tx_reference unique (account_id, reference_kind, reference_id)
);
create index if not exists idx_tx_account_created on wallet_transactions (account_id, created_at);

create table if not exists recharge_codes (
	id uuid primary key,
	code_hash text not null,
	amount bigint not null check (amount > 0),
	used boolean not null default false,
	used_by text,
	used_at timestamptz,
	expires_at timestamptz,
	batch_id text,
	created_at timestamptz not null,
	constraint uniq_recharge_code_hash unique (code_hash)
);
create index if not exists idx_recharge_codes_batch on recharge_codes (batch_id);

create table if not exists products (
	id uuid primary key,
	name text not null,
	price bigint not null check (price > 0),
	active boolean not null default true,
	featured boolean not null default false,
	created_at timestamptz not null,
	updated_at timestamptz not null
);

create table if not exists orders (
	id uuid primary key,
	account_id text not null references accounts(id),
	product_id uuid not null,
	product_name text not null,
	product_price bigint not null,
	quantity integer not null default 1,
	total_amount bigint not null,
	status text not null check (status in ('pending','completed')),
	transaction_id uuid,
	request_id text not null,
	admin_reply text,
	reply_read_at timestamptz,
	metadata jsonb not null default '{}'::jsonb,
	created_at timestamptz not null,
	updated_at timestamptz not null,
	constraint uniq_orders_request unique (account_id, request_id)
);
create index if not exists idx_orders_account_created on orders (account_id, created_at);
`

// EnsureSchema creates the wallet tables when they do not exist. The
// constraint names here are the ones the store sniffs for conflicts.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	if err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeCreate, err)
	}
	return nil
}
