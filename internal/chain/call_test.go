package chain

import (
	"fmt"
	"sync"
	"testing"

	"chainpay-gateway/internal/core/domain"
	"chainpay-gateway/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testMerchant = "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7"
	testPayer    = "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM"
)

func testAsset() AssetInfo {
	return AssetInfo{
		Address:      "SP3DX3H4FEYZJZ586MFBS25ZW3HZDMEW92260R2PR",
		ContractName: "wrapped-token",
		TokenName:    "wrapped-token",
	}
}

func testBuilder() *CallBuilder {
	return NewCallBuilder(testMerchant, "payment-gateway", "testnet", testAsset())
}

func mustID(t *testing.T) domain.LedgerID {
	t.Helper()
	id, err := domain.NewLedgerID()
	require.NoError(t, err)
	return id
}

func TestAssetInfo_String(t *testing.T) {
	assert.Equal(t,
		"SP3DX3H4FEYZJZ586MFBS25ZW3HZDMEW92260R2PR.wrapped-token::wrapped-token",
		testAsset().String())
}

func TestPayInvoice_PostConditions(t *testing.T) {
	// Scenario: a 5000-unit invoice must produce a pay call bounded so the
	// payer sends at least 5000 and the merchant sends at most zero.
	b := testBuilder()
	id := mustID(t)

	call, err := b.PayInvoice(id, 5000, testPayer, testMerchant)
	require.NoError(t, err)

	assert.Equal(t, FnPayInvoice, call.FunctionName)
	assert.Equal(t, "payment-gateway", call.ContractName)
	assert.Equal(t, domain.PostConditionModeDeny, call.PostConditionMode)

	require.Len(t, call.FunctionArgs, 1)
	assert.Equal(t, domain.ArgBuffer, call.FunctionArgs[0].Type)
	assert.Equal(t, "0x"+id.String(), call.FunctionArgs[0].Value)

	require.Len(t, call.PostConditions, 2)

	payerCond := call.PostConditions[0]
	assert.Equal(t, domain.PostConditionTypeFT, payerCond.Type)
	assert.Equal(t, testPayer, payerCond.Address)
	assert.Equal(t, domain.CondSendsGTE, payerCond.Condition)
	assert.Equal(t, "5000", payerCond.Amount)
	assert.Equal(t, testAsset().String(), payerCond.Asset)

	merchantCond := call.PostConditions[1]
	assert.Equal(t, testMerchant, merchantCond.Address)
	assert.Equal(t, domain.CondSendsLTE, merchantCond.Condition)
	assert.Equal(t, "0", merchantCond.Amount)
}

func TestRefundInvoice_CapsMerchantTransfer(t *testing.T) {
	b := testBuilder()
	id := mustID(t)

	call, err := b.RefundInvoice(id, 2000, testMerchant)
	require.NoError(t, err)

	require.Len(t, call.PostConditions, 1)
	cond := call.PostConditions[0]
	assert.Equal(t, testMerchant, cond.Address)
	assert.Equal(t, domain.CondSendsLTE, cond.Condition)
	assert.Equal(t, "2000", cond.Amount)
}

func TestCreateInvoice_Args(t *testing.T) {
	b := testBuilder()
	id := mustID(t)
	memo := "order 42"

	call, err := b.CreateInvoice(id, 5000, testMerchant, 90, &memo)
	require.NoError(t, err)

	require.Len(t, call.FunctionArgs, 5)
	assert.Equal(t, "0x"+id.String(), call.FunctionArgs[0].Value)
	assert.Equal(t, "5000", call.FunctionArgs[1].Value)
	assert.Equal(t, testMerchant, call.FunctionArgs[2].Value)
	assert.Equal(t, "90", call.FunctionArgs[3].Value)
	assert.Equal(t, domain.ArgStringASCII, call.FunctionArgs[4].Type)
	assert.Equal(t, "order 42", call.FunctionArgs[4].Value)
	assert.Empty(t, call.PostConditions, "creation moves no assets")

	call, err = b.CreateInvoice(id, 5000, testMerchant, 90, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ArgNone, call.FunctionArgs[4].Type)
}

func TestCallBuilder_ValidationRejections(t *testing.T) {
	b := testBuilder()
	id := mustID(t)

	tests := []struct {
		name string
		run  func() error
		code string
	}{
		{"zero invoice id", func() error {
			_, err := b.PayInvoice(domain.LedgerID{}, 5000, testPayer, testMerchant)
			return err
		}, "VAL_001"},
		{"zero amount", func() error {
			_, err := b.PayInvoice(id, 0, testPayer, testMerchant)
			return err
		}, "VAL_002"},
		{"bad payer principal", func() error {
			_, err := b.PayInvoice(id, 5000, "not-a-principal", testMerchant)
			return err
		}, "VAL_003"},
		{"zero refund", func() error {
			_, err := b.RefundInvoice(id, 0, testMerchant)
			return err
		}, "VAL_002"},
		{"zero subscription interval", func() error {
			_, err := b.CreateSubscription(id, 1000, 0, testMerchant, testPayer)
			return err
		}, "SUB_003"},
		{"bad merchant registration", func() error {
			_, err := b.RegisterMerchant("bogus")
			return err
		}, "VAL_003"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			require.Error(t, err)
			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
}

func TestPayInvoice_RequiresConfiguredAsset(t *testing.T) {
	b := NewCallBuilder(testMerchant, "payment-gateway", "testnet", AssetInfo{})

	_, err := b.PayInvoice(mustID(t), 5000, testPayer, testMerchant)
	require.Error(t, err)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "INV_004", appErr.Code)
}

func TestCallBuilder_ConcurrentAssetSwapKeepsConditionsCoherent(t *testing.T) {
	b := testBuilder()
	id := mustID(t)

	alt := AssetInfo{
		Address:      "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7",
		ContractName: "stable-token",
		TokenName:    "stable-token",
	}
	known := map[string]bool{testAsset().String(): true, alt.String(): true}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(useAlt bool) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if useAlt {
					b.SetAsset(alt)
				} else {
					b.SetAsset(testAsset())
				}
			}
		}(i%2 == 0)
	}

	errCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 200; j++ {
			call, err := b.PayInvoice(id, 5000, testPayer, testMerchant)
			if err != nil {
				errCh <- err
				return
			}
			// Both conditions of one call must name the same, known asset:
			// an admin swap mid-build would otherwise tear them apart.
			payerAsset := call.PostConditions[0].Asset
			merchantAsset := call.PostConditions[1].Asset
			if !known[payerAsset] || payerAsset != merchantAsset {
				errCh <- fmt.Errorf("torn post-conditions: %q vs %q", payerAsset, merchantAsset)
				return
			}
		}
	}()

	wg.Wait()
	select {
	case err := <-errCh:
		t.Fatal(err)
	default:
	}
}

func TestPaySubscription_PostConditions(t *testing.T) {
	b := testBuilder()
	id := mustID(t)

	call, err := b.PaySubscription(id, 1200, testPayer, testMerchant)
	require.NoError(t, err)

	require.Len(t, call.PostConditions, 2)
	assert.Equal(t, domain.CondSendsGTE, call.PostConditions[0].Condition)
	assert.Equal(t, "1200", call.PostConditions[0].Amount)
	assert.Equal(t, domain.CondSendsLTE, call.PostConditions[1].Condition)
	assert.Equal(t, "0", call.PostConditions[1].Amount)
}

func TestAdminCalls(t *testing.T) {
	b := testBuilder()

	call, err := b.ActivateMerchant(testMerchant)
	require.NoError(t, err)
	assert.Equal(t, FnActivateMerchant, call.FunctionName)

	call, err = b.SetToken(testAsset().Address + "." + testAsset().ContractName)
	require.NoError(t, err)
	assert.Equal(t, FnSetToken, call.FunctionName)

	call, err = b.Bootstrap()
	require.NoError(t, err)
	assert.Equal(t, FnBootstrap, call.FunctionName)
	assert.Empty(t, call.FunctionArgs)
}
