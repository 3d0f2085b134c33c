package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/postera-labs/settle/ledger"
	"github.com/postera-labs/settle/middleware"
	"github.com/postera-labs/settle/requirement"
	"github.com/postera-labs/settle/settle"
	"github.com/postera-labs/settle/types"
	"github.com/postera-labs/settle/verification"
)

const (
	testTxRef = "0x4a16fb54e7f156cd1fbaa2e9b32d0bbdbee979e104e8f7b72851a4fffe7fe7bc"
	testPayer = "0x36461766aBA1dcC7D05a739a079Be3Cb427451a5"
	payout    = "0x2222222222222222222222222222222222222222"
	treasury  = "0x1111111111111111111111111111111111111111"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, ledger.AutoMigrate(db))
	return db
}

func newTestServer(t *testing.T, db *gorm.DB, treasuryAddr string) http.Handler {
	t.Helper()
	svc := settle.New(ledger.NewGormStore(db), verification.StubVerifier{}, settle.Config{
		Settlement: requirement.Settlement{
			Network:  "base",
			ChainID:  8453,
			Asset:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			Treasury: treasuryAddr,
		},
		AuthorBps: 9000,
	})
	srv := New(Config{Service: svc, Network: "base"})
	return srv.Handler()
}

func seedPost(t *testing.T, db *gorm.DB, paywalled bool, status string) *types.Post {
	t.Helper()
	pub := types.Publication{ID: uuid.New(), Name: "agent-weekly", PayoutAddress: payout}
	require.NoError(t, db.Create(&pub).Error)
	post := types.Post{
		ID:            uuid.New(),
		PublicationID: pub.ID,
		Title:         "Signal from noise",
		Status:        status,
		IsPaywalled:   paywalled,
		BodyMarkdown:  "# secret-markdown-content",
		BodyHTML:      "<h1>secret-html-content</h1>",
	}
	if paywalled {
		post.PriceUSDC = "1.00"
	}
	require.NoError(t, db.Create(&post).Error)
	return &post
}

func doRequest(handler http.Handler, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.RemoteAddr = "10.0.0.1:1234"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGetFreePostReturnsBody(t *testing.T) {
	db := setupTestDB(t)
	post := seedPost(t, db, false, types.PostStatusPublished)
	handler := newTestServer(t, db, treasury)

	rec := doRequest(handler, http.MethodGet, "/api/v1/posts/"+post.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "secret-html-content")
}

func TestGetPaywalledPostStripsBody(t *testing.T) {
	db := setupTestDB(t)
	post := seedPost(t, db, true, types.PostStatusPublished)
	handler := newTestServer(t, db, treasury)

	rec := doRequest(handler, http.MethodGet, "/api/v1/posts/"+post.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret-html-content")
	assert.NotContains(t, rec.Body.String(), "secret-markdown-content")
	assert.NotContains(t, rec.Body.String(), "bodyHtml")
}

func TestGetPostNotFound(t *testing.T) {
	handler := newTestServer(t, setupTestDB(t), treasury)
	rec := doRequest(handler, http.MethodGet, "/api/v1/posts/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnlockChallengeNeverLeaksContent(t *testing.T) {
	db := setupTestDB(t)
	post := seedPost(t, db, true, types.PostStatusPublished)
	handler := newTestServer(t, db, treasury)

	rec := doRequest(handler, http.MethodPost, "/api/v1/posts/"+post.ID.String()+"/unlock", nil, nil)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret-html-content")
	assert.NotContains(t, rec.Body.String(), "secret-markdown-content")

	var challenge types.PaymentRequired
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &challenge))
	require.Len(t, challenge.PaymentRequirements, 1)
	req := challenge.PaymentRequirements[0]
	assert.Equal(t, types.SchemeExact, req.Scheme)
	assert.Equal(t, "1.00", req.Amount)
	assert.Equal(t, payout, req.Recipient)

	// The challenge is mirrored in the header.
	var mirrored []types.PaymentRequirements
	require.NoError(t, json.Unmarshal([]byte(rec.Header().Get(HeaderPaymentRequirements)), &mirrored))
	require.Len(t, mirrored, 1)
	assert.Equal(t, req.Amount, mirrored[0].Amount)
}

func TestUnlockWithProofSettlesOnce(t *testing.T) {
	db := setupTestDB(t)
	post := seedPost(t, db, true, types.PostStatusPublished)
	handler := newTestServer(t, db, treasury)
	headers := map[string]string{
		"X-Payment-Response": testTxRef,
		"X-Payer-Address":    testPayer,
	}

	rec := doRequest(handler, http.MethodPost, "/api/v1/posts/"+post.ID.String()+"/unlock", nil, headers)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "secret-html-content")
	assert.Contains(t, rec.Body.String(), `"authorAmount":"0.9"`)
	assert.Contains(t, rec.Body.String(), `"protocolAmount":"0.1"`)

	// Resubmitting the same proof returns granted content without a
	// second receipt or grant.
	rec = doRequest(handler, http.MethodPost, "/api/v1/posts/"+post.ID.String()+"/unlock", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"granted":true`)

	var receipts, grants int64
	require.NoError(t, db.Model(&types.PaymentReceipt{}).Count(&receipts).Error)
	require.NoError(t, db.Model(&types.AccessGrant{}).Count(&grants).Error)
	assert.Equal(t, int64(1), receipts)
	assert.Equal(t, int64(1), grants)
}

func TestUnlockFreePost(t *testing.T) {
	db := setupTestDB(t)
	post := seedPost(t, db, false, types.PostStatusPublished)
	handler := newTestServer(t, db, treasury)

	rec := doRequest(handler, http.MethodPost, "/api/v1/posts/"+post.ID.String()+"/unlock", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "secret-html-content")
}

func TestUnlockStructuredProofBody(t *testing.T) {
	db := setupTestDB(t)
	post := seedPost(t, db, true, types.PostStatusPublished)
	handler := newTestServer(t, db, treasury)

	body := []byte(`{"x402Version":2,"payload":{"txHash":"` + testTxRef + `","payerAddress":"` + testPayer + `"},"accepted":{"network":"eip155:8453"}}`)
	rec := doRequest(handler, http.MethodPost, "/api/v1/posts/"+post.ID.String()+"/unlock", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var grant types.AccessGrant
	require.NoError(t, db.First(&grant, "post_id = ?", post.ID).Error)
	assert.Equal(t, testPayer, grant.PayerAddress)
}

func TestSponsorEndToEnd(t *testing.T) {
	db := setupTestDB(t)
	post := seedPost(t, db, false, types.PostStatusPublished)
	handler := newTestServer(t, db, treasury)
	path := "/api/v1/posts/" + post.ID.String() + "/sponsor"
	amount := []byte(`{"amountUsdc":"0.50"}`)

	// Without proof: 402 with the split laid out.
	rec := doRequest(handler, http.MethodPost, path, amount, nil)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	var challenge types.PaymentRequired
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &challenge))
	req := challenge.PaymentRequirements[0]
	assert.Equal(t, types.SchemeSplit, req.Scheme)
	assert.Equal(t, "0.45", req.AuthorAmount)
	assert.Equal(t, "0.05", req.ProtocolAmount)
	assert.Equal(t, "0.50", req.TotalAmount)
	assert.Equal(t, payout, req.AuthorRecipient)
	assert.Equal(t, treasury, req.ProtocolRecipient)
	assert.NotEmpty(t, rec.Header().Get(HeaderPaymentRequirements))

	// Resubmitted with a valid proof header: 201 with matching split and
	// an updated 7-day aggregate.
	rec = doRequest(handler, http.MethodPost, path, amount, map[string]string{
		"X-Payment-Response": testTxRef,
		"X-Payer-Address":    testPayer,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Receipt struct {
			Kind       types.PaymentKind `json:"kind"`
			AmountUSDC string            `json:"amountUsdc"`
			TxRef      string            `json:"txRef"`
			Split      struct {
				AuthorAmount   string `json:"authorAmount"`
				ProtocolAmount string `json:"protocolAmount"`
				BpsAuthor      int    `json:"bpsAuthor"`
				BpsProtocol    int    `json:"bpsProtocol"`
			} `json:"split"`
		} `json:"receipt"`
		Sponsorship7d struct {
			TotalUSDC      string `json:"totalUsdc"`
			UniqueSponsors int    `json:"uniqueSponsors"`
		} `json:"sponsorship7d"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, types.KindSponsorship, created.Receipt.Kind)
	assert.Equal(t, "0.50", created.Receipt.AmountUSDC)
	assert.Equal(t, testTxRef, created.Receipt.TxRef)
	assert.Equal(t, "0.45", created.Receipt.Split.AuthorAmount)
	assert.Equal(t, "0.05", created.Receipt.Split.ProtocolAmount)
	assert.Equal(t, 9000, created.Receipt.Split.BpsAuthor)
	assert.Equal(t, 1000, created.Receipt.Split.BpsProtocol)
	assert.Equal(t, "0.5", created.Sponsorship7d.TotalUSDC)
	assert.Equal(t, 1, created.Sponsorship7d.UniqueSponsors)

	// A second sponsor from a new payer increments the distinct count.
	rec = doRequest(handler, http.MethodPost, path, []byte(`{"amountUsdc":"0.25"}`), map[string]string{
		"X-Payment-Response": testTxRef,
		"X-Payer-Address":    "0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "0.75", created.Sponsorship7d.TotalUSDC)
	assert.Equal(t, 2, created.Sponsorship7d.UniqueSponsors)
}

func TestSponsorRejectsPaywalledPost(t *testing.T) {
	db := setupTestDB(t)
	post := seedPost(t, db, true, types.PostStatusPublished)
	handler := newTestServer(t, db, treasury)

	rec := doRequest(handler, http.MethodPost, "/api/v1/posts/"+post.ID.String()+"/sponsor", []byte(`{"amountUsdc":"0.50"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEqual(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), "free posts")
}

func TestSponsorRejectsUnpublishedPost(t *testing.T) {
	db := setupTestDB(t)
	post := seedPost(t, db, false, types.PostStatusDraft)
	handler := newTestServer(t, db, treasury)

	rec := doRequest(handler, http.MethodPost, "/api/v1/posts/"+post.ID.String()+"/sponsor", []byte(`{"amountUsdc":"0.50"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSponsorRejectsBadAmounts(t *testing.T) {
	db := setupTestDB(t)
	post := seedPost(t, db, false, types.PostStatusPublished)
	handler := newTestServer(t, db, treasury)

	for _, amount := range []string{"0", "-1"} {
		rec := doRequest(handler, http.MethodPost, "/api/v1/posts/"+post.ID.String()+"/sponsor", []byte(`{"amountUsdc":"`+amount+`"}`), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, amount)
	}

	rec := doRequest(handler, http.MethodPost, "/api/v1/posts/"+post.ID.String()+"/sponsor", []byte(`{}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSponsorNotFound(t *testing.T) {
	handler := newTestServer(t, setupTestDB(t), treasury)
	rec := doRequest(handler, http.MethodPost, "/api/v1/posts/"+uuid.NewString()+"/sponsor", []byte(`{"amountUsdc":"0.50"}`), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSponsorTreasuryNotConfigured(t *testing.T) {
	db := setupTestDB(t)
	post := seedPost(t, db, false, types.PostStatusPublished)
	handler := newTestServer(t, db, "")

	rec := doRequest(handler, http.MethodPost, "/api/v1/posts/"+post.ID.String()+"/sponsor", []byte(`{"amountUsdc":"0.50"}`), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPaymentRouteRateLimited(t *testing.T) {
	db := setupTestDB(t)
	post := seedPost(t, db, false, types.PostStatusPublished)
	svc := settle.New(ledger.NewGormStore(db), verification.StubVerifier{}, settle.Config{
		Settlement: requirement.Settlement{Network: "base", ChainID: 8453, Asset: "0xA", Treasury: treasury},
		AuthorBps:  9000,
	})
	srv := New(Config{
		Service: svc,
		Network: "base",
		Limits:  map[string]middleware.RateLimit{"payment": {RequestsPerMinute: 1, Burst: 1}},
	})
	handler := srv.Handler()
	path := "/api/v1/posts/" + post.ID.String() + "/sponsor"

	first := doRequest(handler, http.MethodPost, path, []byte(`{"amountUsdc":"0.50"}`), nil)
	require.Equal(t, http.StatusPaymentRequired, first.Code)

	second := doRequest(handler, http.MethodPost, path, []byte(`{"amountUsdc":"0.50"}`), nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
}

func TestHealthz(t *testing.T) {
	handler := newTestServer(t, setupTestDB(t), treasury)
	rec := doRequest(handler, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
