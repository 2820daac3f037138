package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashflowhq/cashflow-api/ledger"
	"github.com/cashflowhq/cashflow-api/money"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// fakeTx is an in-memory ledger.Tx for poster tests.
type fakeTx struct {
	accounts map[ledger.AccountID]*ledger.Account
	inserted []*ledger.JournalEntry
	reversed map[ledger.JournalEntryID]bool
}

func newFakeTx() *fakeTx {
	return &fakeTx{
		accounts: map[ledger.AccountID]*ledger.Account{},
		reversed: map[ledger.JournalEntryID]bool{},
	}
}

func (f *fakeTx) addAccount(id ledger.AccountID, typ ledger.AccountType, active bool) {
	f.accounts[id] = &ledger.Account{
		ID: id, TenantID: "t1", Code: string(id), Name: string(id),
		Type: typ, IsActive: active,
	}
}

func (f *fakeTx) GetAccount(_ context.Context, tenantID ledger.TenantID, id ledger.AccountID) (*ledger.Account, error) {
	acct, ok := f.accounts[id]
	if !ok || acct.TenantID != tenantID {
		return nil, nil
	}
	return acct, nil
}

func (f *fakeTx) InsertJournalEntry(_ context.Context, e *ledger.JournalEntry) error {
	if e.ReversalOfJournalEntryID != "" {
		if f.reversed[e.ReversalOfJournalEntryID] {
			return ledger.Conflictf(ledger.CodeAlreadyReversed, "journal entry %s already reversed", e.ReversalOfJournalEntryID)
		}
		f.reversed[e.ReversalOfJournalEntryID] = true
	}
	f.inserted = append(f.inserted, e)
	return nil
}

func m(s string) money.Money { return money.MustParse(s) }

// =============================================================================
// POSTING
// =============================================================================

func TestPost_BalancedEntry(t *testing.T) {
	tx := newFakeTx()
	tx.addAccount("ar", ledger.AccountAsset, true)
	tx.addAccount("sales", ledger.AccountIncome, true)

	entry, err := ledger.NewPoster().Post(context.Background(), tx, ledger.PostInput{
		TenantID: "t1",
		Date:     money.NewDate(2025, 3, 10),
		Lines: []ledger.Line{
			ledger.Debit("ar", m("100.00")),
			ledger.Credit("sales", m("100.00")),
		},
		CreatedByUserID: "u1",
	})
	require.NoError(t, err)

	assert.True(t, entry.TotalDebit().Equal(entry.TotalCredit()))
	assert.Len(t, tx.inserted, 1)
	assert.NotEmpty(t, entry.ID)
}

func TestPost_RejectsUnbalancedAndMalformed(t *testing.T) {
	tx := newFakeTx()
	tx.addAccount("ar", ledger.AccountAsset, true)
	tx.addAccount("sales", ledger.AccountIncome, true)
	poster := ledger.NewPoster()
	ctx := context.Background()

	// Fewer than two lines.
	_, err := poster.Post(ctx, tx, ledger.PostInput{
		TenantID: "t1",
		Lines:    []ledger.Line{ledger.Debit("ar", m("10.00"))},
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeUnbalancedEntry))

	// Debits do not equal credits.
	_, err = poster.Post(ctx, tx, ledger.PostInput{
		TenantID: "t1",
		Lines: []ledger.Line{
			ledger.Debit("ar", m("100.00")),
			ledger.Credit("sales", m("99.99")),
		},
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeUnbalancedEntry))

	// A line with both sides set.
	_, err = poster.Post(ctx, tx, ledger.PostInput{
		TenantID: "t1",
		Lines: []ledger.Line{
			{AccountID: "ar", Debit: m("10.00"), Credit: m("10.00")},
			ledger.Credit("sales", m("0.00")),
		},
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeValidation))
}

func TestPost_RejectsInactiveAndForeignAccounts(t *testing.T) {
	tx := newFakeTx()
	tx.addAccount("ar", ledger.AccountAsset, true)
	tx.addAccount("closed", ledger.AccountIncome, false)
	poster := ledger.NewPoster()

	_, err := poster.Post(context.Background(), tx, ledger.PostInput{
		TenantID: "t1",
		Lines: []ledger.Line{
			ledger.Debit("ar", m("10.00")),
			ledger.Credit("closed", m("10.00")),
		},
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeValidation))

	_, err = poster.Post(context.Background(), tx, ledger.PostInput{
		TenantID: "other-tenant",
		Lines: []ledger.Line{
			ledger.Debit("ar", m("10.00")),
			ledger.Credit("ar", m("10.00")),
		},
	})
	assert.True(t, ledger.IsCode(err, ledger.CodeNotFound))
}

func TestPost_SecondDirectReversalFails(t *testing.T) {
	tx := newFakeTx()
	poster := ledger.NewPoster()
	ctx := context.Background()

	in := ledger.PostInput{
		TenantID:                 "t1",
		ReversalOfJournalEntryID: "je-original",
		SkipAccountValidation:    true,
		Lines: []ledger.Line{
			ledger.Debit("sales", m("100.00")),
			ledger.Credit("ar", m("100.00")),
		},
	}

	_, err := poster.Post(ctx, tx, in)
	require.NoError(t, err)

	_, err = poster.Post(ctx, tx, in)
	assert.True(t, ledger.IsCode(err, ledger.CodeAlreadyReversed))
}

// =============================================================================
// DERIVATIONS
// =============================================================================

func TestReverseLines_SwapsSides(t *testing.T) {
	original := []ledger.JournalEntryLine{
		{AccountID: "ar", Debit: m("100.00")},
		{AccountID: "sales", Credit: m("100.00")},
	}

	swapped := ledger.ReverseLines(original)
	require.Len(t, swapped, 2)
	assert.True(t, swapped[0].Credit.Equal(m("100.00")))
	assert.True(t, swapped[0].Debit.IsZero())
	assert.True(t, swapped[1].Debit.Equal(m("100.00")))
}

func TestAdjustmentLines_NetDelta(t *testing.T) {
	// GIVEN: an original posting of 100 and a desired posting of 120
	// WHEN: computing the adjustment
	// THEN: only the 20 delta appears, balanced across both accounts

	original := []ledger.Line{
		ledger.Debit("ar", m("100.00")),
		ledger.Credit("sales", m("100.00")),
	}
	desired := []ledger.Line{
		ledger.Debit("ar", m("120.00")),
		ledger.Credit("sales", m("120.00")),
	}

	adj, err := ledger.AdjustmentLines(original, desired)
	require.NoError(t, err)
	require.Len(t, adj, 2)

	byAccount := map[ledger.AccountID]ledger.Line{}
	for _, l := range adj {
		byAccount[l.AccountID] = l
	}
	assert.True(t, byAccount["ar"].Debit.Equal(m("20.00")))
	assert.True(t, byAccount["sales"].Credit.Equal(m("20.00")))
}

func TestAdjustmentLines_NoopAndUnbalanced(t *testing.T) {
	same := []ledger.Line{
		ledger.Debit("ar", m("100.00")),
		ledger.Credit("sales", m("100.00")),
	}

	adj, err := ledger.AdjustmentLines(same, same)
	require.NoError(t, err)
	assert.Nil(t, adj)

	// Changing only one account cannot produce a balanced adjustment.
	desired := []ledger.Line{
		ledger.Debit("ar", m("110.00")),
		ledger.Credit("sales", m("100.00")),
	}
	_, err = ledger.AdjustmentLines(same, desired)
	assert.True(t, ledger.IsCode(err, ledger.CodeUnbalancedEntry))
}

// =============================================================================
// PERIOD GUARD
// =============================================================================

type fixedPeriods []ledger.ClosedRange

func (f fixedPeriods) ClosedPeriods(context.Context, ledger.TenantID) ([]ledger.ClosedRange, error) {
	return f, nil
}

func TestPeriodGuard_RejectsClosedDates(t *testing.T) {
	guard := ledger.NewPeriodGuard(fixedPeriods{{
		From: money.NewDate(2025, 1, 1),
		To:   money.NewDate(2025, 1, 31),
	}})
	ctx := context.Background()

	err := guard.CheckOpen(ctx, "t1", money.NewDate(2025, 1, 31), "invoice.post")
	assert.True(t, ledger.IsCode(err, ledger.CodePeriodClosed))

	assert.NoError(t, guard.CheckOpen(ctx, "t1", money.NewDate(2025, 2, 1), "invoice.post"))
}

// =============================================================================
// ACCOUNT AUTO-PROVISION
// =============================================================================

type provisionTx struct {
	byCode map[string]*ledger.Account
}

func (p *provisionTx) FindAccountByCode(_ context.Context, tenantID ledger.TenantID, code string, typ ledger.AccountType) (*ledger.Account, error) {
	acct := p.byCode[code]
	if acct == nil || acct.TenantID != tenantID || acct.Type != typ {
		return nil, nil
	}
	return acct, nil
}

func (p *provisionTx) InsertAccount(_ context.Context, acct *ledger.Account) error {
	p.byCode[acct.Code] = acct
	return nil
}

func TestEnsureAccount_Idempotent(t *testing.T) {
	tx := &provisionTx{byCode: map[string]*ledger.Account{}}
	ctx := context.Background()

	first, err := ledger.EnsureAccount(ctx, tx, "t1", ledger.TaxPayableAccount)
	require.NoError(t, err)
	assert.Equal(t, "2100", first.Code)
	assert.Equal(t, ledger.AccountLiability, first.Type)

	second, err := ledger.EnsureAccount(ctx, tx, "t1", ledger.TaxPayableAccount)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}
