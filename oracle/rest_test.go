package oracle

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func hexOf(b byte, n int) string {
	return strings.Repeat(hex.EncodeToString([]byte{b}), n)
}

func newTestOracle(t *testing.T, attested bool) *RestOracle {
	return newTestOracleAttesting(t, attested, "btc-usd")
}

// newTestOracleAttesting serves attestations naming attestedID whatever
// event is asked for.
func newTestOracleAttesting(t *testing.T, attested bool, attestedID string) *RestOracle {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/pubkey", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(pubkeyResponse{PubKeyHex: hexOf(0x02, 32)})
	})
	mux.HandleFunc("/api/announcement/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/announcement/")
		if id != "btc-usd" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(announcementResponse{
			SignatureHex: hexOf(0x11, 64),
			PubKeyHex:    hexOf(0x02, 32),
			EventID:      id,
			Outcomes:     []string{"up", "down"},
			Maturity:     1700000000,
		})
	})
	mux.HandleFunc("/api/attestation/", func(w http.ResponseWriter, r *http.Request) {
		if !attested {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(attestationResponse{
			PubKeyHex:     hexOf(0x02, 32),
			EventID:       attestedID,
			SignaturesHex: []string{hexOf(0x22, 64)},
			Outcomes:      []string{"up"},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "test")
}

func TestGetAnnouncements(t *testing.T) {
	o := newTestOracle(t, false)
	anns, err := o.GetAnnouncements(context.Background(), "btc-usd")
	require.NoError(t, err)
	require.Len(t, anns, 1)
	require.Equal(t, "btc-usd", anns[0].EventID)
	require.Equal(t, []string{"up", "down"}, anns[0].Outcomes)
	require.Equal(t, uint32(1700000000), anns[0].Maturity)
	require.Equal(t, byte(0x11), anns[0].Signature[63])

	_, err = o.GetAnnouncements(context.Background(), "eth-usd")
	require.Error(t, err)
}

func TestGetAttestation(t *testing.T) {
	o := newTestOracle(t, false)
	att, err := o.GetAttestation(context.Background(), "btc-usd")
	require.NoError(t, err)
	require.Nil(t, att)

	o = newTestOracle(t, true)
	att, err = o.GetAttestation(context.Background(), "btc-usd")
	require.NoError(t, err)
	require.NotNil(t, att)
	require.Equal(t, []string{"up"}, att.Outcomes)
	require.Len(t, att.Signatures, 1)
	require.Equal(t, byte(0x22), att.Signatures[0][0])
}

func TestImportChecksKey(t *testing.T) {
	o := newTestOracle(t, true)
	key, err := o.Import(context.Background())
	require.NoError(t, err)
	require.Equal(t, byte(0x02), key[0])

	_, err = o.GetAnnouncements(context.Background(), "btc-usd")
	require.NoError(t, err)

	other := [32]byte{0x03}
	o.pubKey = &other
	_, err = o.GetAttestation(context.Background(), "btc-usd")
	require.Error(t, err)
}

func TestServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	_, err := New(srv.URL, "broken").GetAttestation(context.Background(), "x")
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
}

func TestGetAttestationRejectsOtherEvent(t *testing.T) {
	o := newTestOracleAttesting(t, true, "eth-usd")
	att, err := o.GetAttestation(context.Background(), "btc-usd")
	require.Error(t, err)
	require.Nil(t, att)
	require.Contains(t, err.Error(), "eth-usd")
}

func TestPinKey(t *testing.T) {
	o := newTestOracle(t, true)
	require.Error(t, o.PinKey("zz"))
	require.Error(t, o.PinKey(hexOf(0x02, 31)))

	require.NoError(t, o.PinKey(hexOf(0x03, 32)))
	_, err := o.GetAnnouncements(context.Background(), "btc-usd")
	require.Error(t, err)
	_, err = o.GetAttestation(context.Background(), "btc-usd")
	require.Error(t, err)

	require.NoError(t, o.PinKey(hexOf(0x02, 32)))
	_, err = o.GetAnnouncements(context.Background(), "btc-usd")
	require.NoError(t, err)
	att, err := o.GetAttestation(context.Background(), "btc-usd")
	require.NoError(t, err)
	require.NotNil(t, att)
}
