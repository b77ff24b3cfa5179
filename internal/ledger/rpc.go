package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ErrAccountNotFound is returned when a requested account does not exist.
var ErrAccountNotFound = errors.New("account not found")

// KeyedAccount is one account returned by a program query.
type KeyedAccount struct {
	Key  solana.PublicKey // Key is the account address
	Data []byte           // Data is the raw account data
}

// Filter selects program accounts by exact data size and a byte match.
type Filter struct {
	DataSize uint64 // DataSize is the exact account length
	Offset   uint64 // Offset is where Bytes must appear
	Bytes    []byte // Bytes is the value matched at Offset
}

// Ledger is the remote account query service.
type Ledger interface {
	// AccountData returns the raw data of one account.
	AccountData(ctx context.Context, key solana.PublicKey) ([]byte, error)

	// ProgramAccounts returns every account owned by program matching filter.
	ProgramAccounts(ctx context.Context, program solana.PublicKey, filter Filter) ([]KeyedAccount, error)
}

// RPC queries a Solana JSON-RPC endpoint at finalized commitment.
type RPC struct {
	client *rpc.Client
}

// NewRPC creates a ledger backed by the JSON-RPC endpoint.
func NewRPC(endpoint string) *RPC {
	return &RPC{client: rpc.New(endpoint)}
}

// AccountData implements Ledger.
func (r *RPC) AccountData(ctx context.Context, key solana.PublicKey) ([]byte, error) {
	out, err := r.client.GetAccountInfoWithOpts(ctx, key, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentFinalized,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s:\n%w", key, err)
	}

	if out == nil || out.Value == nil || out.Value.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, key)
	}

	return out.Value.Data.GetBinary(), nil
}

// ProgramAccounts implements Ledger.
func (r *RPC) ProgramAccounts(ctx context.Context, program solana.PublicKey, filter Filter) ([]KeyedAccount, error) {
	out, err := r.client.GetProgramAccountsWithOpts(ctx, program, &rpc.GetProgramAccountsOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentFinalized,
		Filters: []rpc.RPCFilter{
			{DataSize: filter.DataSize},
			{Memcmp: &rpc.RPCFilterMemcmp{Offset: filter.Offset, Bytes: solana.Base58(filter.Bytes)}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get program accounts:\n%w", err)
	}

	accounts := make([]KeyedAccount, 0, len(out))
	for _, acc := range out {
		if acc == nil || acc.Account == nil || acc.Account.Data == nil {
			continue
		}

		accounts = append(accounts, KeyedAccount{
			Key:  acc.Pubkey,
			Data: acc.Account.Data.GetBinary(),
		})
	}

	return accounts, nil
}
