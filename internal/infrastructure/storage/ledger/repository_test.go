package ledger_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerbridge/internal/domain/posting"
	"ledgerbridge/internal/infrastructure/storage/ledger"
	"ledgerbridge/internal/infrastructure/storage/ledger/ledgertest"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newRepo(t *testing.T) (*ledger.Supervisor, *ledger.Repository) {
	t.Helper()
	sup := ledgertest.New(t)
	return sup, ledger.NewRepository(sup, ledger.RepositoryOptions{ConsumptionTaxCode: "INC"})
}

func TestRepository_ThirdParty(t *testing.T) {
	_, repo := newRepo(t)
	ctx := context.Background()

	found, err := repo.FindThirdParty(ctx, "900123456")
	require.NoError(t, err)
	assert.Nil(t, found)

	tp := &posting.ThirdParty{TaxID: "900123456", Name: "ACME", IDType: "31"}
	require.NoError(t, repo.CreateThirdParty(ctx, tp))
	assert.NotZero(t, tp.ID)

	require.NoError(t, repo.UpdateThirdPartyEmail(ctx, tp.ID, "billing@acme.co"))

	found, err = repo.FindThirdParty(ctx, "900123456")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, tp.ID, found.ID)
	assert.Equal(t, "billing@acme.co", found.Email)
	assert.Equal(t, "31", found.IDType)
}

func TestRepository_HeaderLinesTotals(t *testing.T) {
	sup, repo := newRepo(t)
	ctx := context.Background()

	var header posting.Header
	err := sup.RunInTransaction(ctx, func(ctx context.Context) error {
		tp := &posting.ThirdParty{TaxID: "222222222222", Name: "CONSUMIDOR FINAL"}
		require.NoError(t, repo.CreateThirdParty(ctx, tp))

		header = posting.Header{
			DocumentType: "FV", Prefix: "FE", Number: 1042,
			NaturalTag: "POS-1042", ThirdPartyID: tp.ID,
			IssuedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		}
		require.NoError(t, repo.InsertHeader(ctx, &header))

		ref, err := repo.FindHeader(ctx, "FV", "FE", 1042)
		require.NoError(t, err)
		require.NotNil(t, ref)
		assert.Equal(t, header.ID, ref.ID)
		assert.Equal(t, "POS-1042", ref.NaturalTag)

		food := &posting.Material{Code: "P1", Name: "Plate", TaxCode: "INC", TaxRate: dec("8")}
		require.NoError(t, repo.CreateMaterial(ctx, food))
		drink := &posting.Material{Code: "D1", Name: "Drink", TaxCode: "IVA", TaxRate: dec("19")}
		require.NoError(t, repo.CreateMaterial(ctx, drink))

		require.NoError(t, repo.InsertLine(ctx, &posting.LineRecord{
			HeaderID: header.ID, LineNo: 1, MaterialID: food.ID,
			Quantity: dec("1"), UnitPrice: dec("5000"), TaxCode: "INC", TaxRate: dec("8"),
			Base: dec("5000"), TaxAmount: dec("400"),
		}))
		require.NoError(t, repo.InsertLine(ctx, &posting.LineRecord{
			HeaderID: header.ID, LineNo: 2, MaterialID: drink.ID,
			Quantity: dec("2"), UnitPrice: dec("1000"), TaxCode: "IVA", TaxRate: dec("19"),
			Base: dec("2000"), TaxAmount: dec("380"),
		}))
		require.NoError(t, repo.InsertPayment(ctx, &posting.PaymentRecord{
			HeaderID: header.ID, MethodCode: "EF", Amount: dec("7780"),
		}))
		return repo.RecalculateTotals(ctx, header.ID)
	})
	require.NoError(t, err)

	ex, err := repo.FindInvoice(ctx, "POS-1042")
	require.NoError(t, err)
	require.NotNil(t, ex)
	assert.Equal(t, header.ID, ex.LedgerID)
	assert.Equal(t, "FE", ex.LedgerPrefix)
	assert.Equal(t, int64(1042), ex.LedgerNumber)
	assert.True(t, dec("7000").Equal(ex.TaxBase), ex.TaxBase.String())
	assert.True(t, dec("380").Equal(ex.VAT), ex.VAT.String())
	assert.True(t, dec("400").Equal(ex.ConsumptionTax), ex.ConsumptionTax.String())
	assert.True(t, dec("7780").Equal(ex.Total), ex.Total.String())

	missing, err := repo.FindInvoice(ctx, "POS-9999")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepository_DuplicateNumberRejected(t *testing.T) {
	cfg := ledgertest.Config(t)
	ledgertest.Migrate(t, cfg)
	db := ledgertest.Open(t, cfg)
	ledgertest.SeedHeader(t, db, "FV", "FE", 57, "POS-1")

	sup := ledgertest.NewWithConfig(t, cfg)
	repo := ledger.NewRepository(sup, ledger.RepositoryOptions{})

	h := &posting.Header{DocumentType: "FV", Prefix: "FE", Number: 57, NaturalTag: "POS-2", ThirdPartyID: 1, IssuedAt: time.Now()}
	err := repo.InsertHeader(context.Background(), h)
	require.Error(t, err)
	assert.True(t, ledger.IsUniqueViolation(err))
	assert.True(t, sup.Status().Healthy)
}

func TestRepository_Metadata(t *testing.T) {
	cfg := ledgertest.Config(t)
	ledgertest.Migrate(t, cfg)
	db := ledgertest.Open(t, cfg)
	ledgertest.SeedHeader(t, db, "FV", "FE", 1, "POS-1")

	sup := ledgertest.NewWithConfig(t, cfg)
	repo := ledger.NewRepository(sup, ledger.RepositoryOptions{})
	ctx := context.Background()

	ref, err := repo.FindHeader(ctx, "FV", "FE", 1)
	require.NoError(t, err)
	require.NotNil(t, ref)

	all := []posting.MetadataField{
		posting.FieldAccountingDate, posting.FieldCostCenter, posting.FieldPostedAt, posting.FieldObservation,
	}
	missing, err := repo.NullMetadata(ctx, ref.ID, all)
	require.NoError(t, err)
	assert.Equal(t, all, missing)

	require.NoError(t, repo.UpdateMetadata(ctx, ref.ID, posting.FieldObservation, "POS POS-1"))
	require.NoError(t, repo.UpdateMetadata(ctx, ref.ID, posting.FieldPostedAt, time.Now().UTC()))

	missing, err = repo.NullMetadata(ctx, ref.ID, all)
	require.NoError(t, err)
	assert.Equal(t, []posting.MetadataField{posting.FieldAccountingDate, posting.FieldCostCenter}, missing)

	err = repo.UpdateMetadata(ctx, ref.ID, posting.MetadataField("natural_tag"), "x")
	assert.Error(t, err)
}

func TestRepository_Ping(t *testing.T) {
	_, repo := newRepo(t)
	assert.NoError(t, repo.Ping(context.Background()))
}

func TestAuditStore_CompressesLargePayloads(t *testing.T) {
	sup := ledgertest.New(t)
	store, err := ledger.NewAuditStore(sup, ledgertest.AuditTable)
	require.NoError(t, err)
	store.WithThreshold(64)
	ctx := context.Background()

	small := []byte(`{"prefix":"POS","number":"1"}`)
	large := bytes.Repeat([]byte(`{"item":"coffee","qty":1},`), 50)

	require.NoError(t, sup.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := store.Record(ctx, "POS-1", 10, small); err != nil {
			return err
		}
		return store.Record(ctx, "POS-1", 10, large)
	}))

	entries, err := store.History(ctx, "POS-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var payloads [][]byte
	for _, e := range entries {
		assert.False(t, e.Compressed)
		assert.Equal(t, int64(10), e.HeaderID)
		payloads = append(payloads, e.Payload)
	}
	assert.Contains(t, payloads, small)
	assert.Contains(t, payloads, large)
}
