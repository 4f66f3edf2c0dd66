// Package oracle fetches announcements and attestations from REST oracles.
package oracle

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mit-dci/dlcd/dlcstate"
	"github.com/mit-dci/dlcd/logging"
)

// RestOracle talks to an oracle over HTTP. The zero value is not usable;
// use New.
type RestOracle struct {
	Name   string
	URL    string
	client *http.Client

	pubKey *[32]byte
}

// New returns a client for the oracle served at baseURL.
func New(baseURL, name string) *RestOracle {
	return &RestOracle{
		Name:   name,
		URL:    strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type pubkeyResponse struct {
	PubKeyHex string `json:"pubkey"`
}

type announcementResponse struct {
	SignatureHex string   `json:"announcementSignature"`
	PubKeyHex    string   `json:"oraclePublicKey"`
	EventID      string   `json:"eventId"`
	Outcomes     []string `json:"outcomes"`
	Maturity     uint32   `json:"maturity"`
}

type attestationResponse struct {
	PubKeyHex     string   `json:"oraclePublicKey"`
	EventID       string   `json:"eventId"`
	SignaturesHex []string `json:"signatures"`
	Outcomes      []string `json:"outcomes"`
}

// get decodes the JSON body at path into v. It reports false, with no
// error, on a 404.
func (o *RestOracle) get(ctx context.Context, path string, v interface{}) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.URL+path, nil)
	if err != nil {
		return false, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("oracle %s: GET %s: %s", o.Name, path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return false, fmt.Errorf("oracle %s: decode %s: %w", o.Name, path, err)
	}
	return true, nil
}

func decodeHex(dst []byte, s, what string) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if len(b) != len(dst) {
		return fmt.Errorf("%s has %d bytes, want %d", what, len(b), len(dst))
	}
	copy(dst, b)
	return nil
}

// Import fetches and remembers the oracle's public key. Announcements and
// attestations signed by another key are refused afterwards.
func (o *RestOracle) Import(ctx context.Context) ([32]byte, error) {
	var key [32]byte
	var resp pubkeyResponse
	found, err := o.get(ctx, "/api/pubkey", &resp)
	if err != nil {
		return key, err
	}
	if !found {
		return key, fmt.Errorf("oracle %s has no public key", o.Name)
	}
	if err := decodeHex(key[:], resp.PubKeyHex, "oracle public key"); err != nil {
		return key, err
	}
	o.pubKey = &key
	logging.Infof("oracle: imported %s (%x)", o.Name, key[:8])
	return key, nil
}

// PinKey remembers hexKey as the oracle's public key without asking the
// oracle for it.
func (o *RestOracle) PinKey(hexKey string) error {
	var key [32]byte
	if err := decodeHex(key[:], hexKey, "oracle public key"); err != nil {
		return err
	}
	o.pubKey = &key
	return nil
}

func (o *RestOracle) checkKey(key [32]byte) error {
	if o.pubKey != nil && *o.pubKey != key {
		return fmt.Errorf("oracle %s signed with unknown key %x", o.Name, key[:8])
	}
	return nil
}

// GetAnnouncements returns the announcement of eventID.
func (o *RestOracle) GetAnnouncements(ctx context.Context, eventID string) ([]dlcstate.OracleAnnouncement, error) {
	var resp announcementResponse
	found, err := o.get(ctx, "/api/announcement/"+url.PathEscape(eventID), &resp)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("oracle %s has no event %q", o.Name, eventID)
	}
	a := dlcstate.OracleAnnouncement{
		EventID:  resp.EventID,
		Outcomes: resp.Outcomes,
		Maturity: resp.Maturity,
	}
	if err := decodeHex(a.Signature[:], resp.SignatureHex, "announcement signature"); err != nil {
		return nil, err
	}
	if err := decodeHex(a.OraclePubKey[:], resp.PubKeyHex, "oracle public key"); err != nil {
		return nil, err
	}
	if err := o.checkKey(a.OraclePubKey); err != nil {
		return nil, err
	}
	if a.EventID != eventID {
		return nil, fmt.Errorf("oracle %s answered event %q for %q", o.Name, a.EventID, eventID)
	}
	if len(a.Outcomes) == 0 {
		return nil, fmt.Errorf("oracle %s: event %q has no outcomes", o.Name, eventID)
	}
	return []dlcstate.OracleAnnouncement{a}, nil
}

// GetAttestation returns the attestation of eventID, or nil if the oracle
// has not attested yet.
func (o *RestOracle) GetAttestation(ctx context.Context, eventID string) (*dlcstate.OracleAttestation, error) {
	var resp attestationResponse
	found, err := o.get(ctx, "/api/attestation/"+url.PathEscape(eventID), &resp)
	if err != nil || !found {
		return nil, err
	}
	a := &dlcstate.OracleAttestation{
		EventID:    resp.EventID,
		Outcomes:   resp.Outcomes,
		Signatures: make([][64]byte, len(resp.SignaturesHex)),
	}
	if err := decodeHex(a.OraclePubKey[:], resp.PubKeyHex, "oracle public key"); err != nil {
		return nil, err
	}
	if err := o.checkKey(a.OraclePubKey); err != nil {
		return nil, err
	}
	if a.EventID != eventID {
		return nil, fmt.Errorf("oracle %s attested event %q for %q", o.Name, a.EventID, eventID)
	}
	for i, s := range resp.SignaturesHex {
		if err := decodeHex(a.Signatures[i][:], s, "attestation signature"); err != nil {
			return nil, err
		}
	}
	if len(a.Signatures) != len(a.Outcomes) {
		return nil, fmt.Errorf("oracle %s: %d signatures for %d outcomes", o.Name, len(a.Signatures), len(a.Outcomes))
	}
	return a, nil
}
