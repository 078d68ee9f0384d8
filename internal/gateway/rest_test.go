package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/okx-scalper/core/internal/core"
)

func TestSigningIsDeterministic(t *testing.T) {
	c := &RestClient{creds: Credentials{SecretKey: "s3cr3t"}}
	sig1 := c.sign("2024-01-01T00:00:00.000Z", "POST", "/api/v5/trade/order", `{"a":1}`)
	sig2 := c.sign("2024-01-01T00:00:00.000Z", "POST", "/api/v5/trade/order", `{"a":1}`)
	require.Equal(t, sig1, sig2)
}

func TestGetBalanceParsesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "GET", r.Method)
		require.NotEmpty(t, r.Header.Get("OK-ACCESS-SIGN"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code": "0",
			"msg":  "",
			"data": []map[string]string{{"totalEq": "12345.67"}},
		})
	}))
	defer srv.Close()

	c := NewRestClient(srv.URL, Credentials{APIKey: "k", SecretKey: "s", Passphrase: "p"})
	bal, err := c.GetBalance(context.Background(), "USDT")
	require.NoError(t, err)
	require.True(t, bal.Equal(decimal.RequireFromString("12345.67")))
}

func TestApiErrorSurfacesExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"code": "51008", "msg": "insufficient balance"})
	}))
	defer srv.Close()

	c := NewRestClient(srv.URL, Credentials{})
	_, err := c.GetBalance(context.Background(), "USDT")
	require.Error(t, err)
	var apiErr *core.ApiError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "51008", apiErr.Code)
}

func TestNonOKStatusIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewRestClient(srv.URL, Credentials{})
	_, err := c.GetBalance(context.Background(), "")
	require.Error(t, err)
	var netErr *core.NetworkError
	require.ErrorAs(t, err, &netErr)
}

func TestStopOrderPayloadStripsPosSideAndSetsConditional(t *testing.T) {
	stop := decimal.NewFromFloat(49900.0)
	req := PlaceOrderRequest{
		Symbol:        "BTC-USDT-SWAP",
		Side:          core.SideBuy,
		OrderType:     core.OrderTypeStopMarket,
		Size:          decimal.NewFromInt(1),
		StopLossPrice: &stop,
		ClOrdID:       "t1ts000001",
	}
	payload := buildOrderPayload(req)
	require.Equal(t, "conditional", payload["ordType"])
	require.Equal(t, stop.String(), payload["slTriggerPx"])
	_, hasPosSide := payload["posSide"]
	require.False(t, hasPosSide)
}

func TestMarketOrderCarriesNoPrice(t *testing.T) {
	req := PlaceOrderRequest{
		Symbol:    "BTC-USDT-SWAP",
		Side:      core.SideBuy,
		OrderType: core.OrderTypeMarket,
		Size:      decimal.NewFromInt(1),
		ClOrdID:   "t1ts000001",
	}
	payload := buildOrderPayload(req)
	_, hasPrice := payload["px"]
	require.False(t, hasPrice, "market orders must never carry a px field")
}
