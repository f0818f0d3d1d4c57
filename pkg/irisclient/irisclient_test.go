package irisclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settler/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var burnTx = common.HexToHash("0xabc123")

func newServer(t *testing.T, status int, body string) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/messages/3", r.URL.Path)
		assert.Equal(t, burnTx.Hex(), r.URL.Query().Get("transactionHash"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return New(server.URL, &logger.EmptyLogger{})
}

func TestFetchAttestation(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantErr     error
		wantMessage []byte
	}{
		{
			name:        "complete",
			status:      http.StatusOK,
			body:        `{"messages":[{"message":"0x0102","attestation":"0xaabb","cctpVersion":2,"status":"complete"}]}`,
			wantMessage: []byte{0x01, 0x02},
		},
		{
			name:    "pending confirmations",
			status:  http.StatusOK,
			body:    `{"messages":[{"message":"0x","attestation":"PENDING","cctpVersion":2,"status":"pending_confirmations"}]}`,
			wantErr: ErrAttestationPending,
		},
		{
			name:    "not indexed yet",
			status:  http.StatusNotFound,
			body:    `{"error":"Message hash not found"}`,
			wantErr: ErrNotFound,
		},
		{
			name:    "only V1 messages",
			status:  http.StatusOK,
			body:    `{"messages":[{"message":"0x01","attestation":"0x02","cctpVersion":1,"status":"complete"}]}`,
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newServer(t, tt.status, tt.body)
			attested, err := client.FetchAttestation(context.Background(), 3, burnTx)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMessage, attested.Message)
			assert.Equal(t, []byte{0xaa, 0xbb}, attested.Attestation)
		})
	}
}

func TestFetchMessages_ServerError(t *testing.T) {
	client := newServer(t, http.StatusInternalServerError, "boom")
	_, err := client.FetchMessages(context.Background(), 3, burnTx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestFetchMessages_BadJSON(t *testing.T) {
	client := newServer(t, http.StatusOK, "not json")
	_, err := client.FetchMessages(context.Background(), 3, burnTx)
	require.Error(t, err)
}
