package directory

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unionhall/referral-app/conf"
	"github.com/unionhall/referral-app/referral/models"
)

func testClient(t *testing.T, handler http.Handler) Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	origURL := conf.GetEnv("REFERRAL_DIRECTORY_URL")
	assert.NoError(t, conf.SetEnv(t, "REFERRAL_DIRECTORY_URL", server.URL))
	t.Cleanup(func() {
		conf.SetEnv(t, "REFERRAL_DIRECTORY_URL", origURL)
	})

	c, err := NewClient()
	assert.NoError(t, err)
	return c
}

func TestGetWorker(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/workers/W-1001", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"W-1001","name":"Pat Doe","classification":"WIREMAN","good_standing":true}`))
	}))

	worker, err := c.GetWorker(context.Background(), "W-1001")
	assert.NoError(t, err)
	assert.Equal(t, "WIREMAN", worker.Classification)
	assert.True(t, worker.GoodStanding)
}

func TestGetWorkerNotFound(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	worker, err := c.GetWorker(context.Background(), "W-9999")
	assert.Nil(t, worker)

	var nfErr *models.NotFoundError
	assert.True(t, errors.As(err, &nfErr))
	assert.Equal(t, "worker", nfErr.Entity)
}

func TestGetEmployerRetriesServerError(t *testing.T) {
	var calls int
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"E-2001","name":"Acme Electric","signatory":true,"agreement_type":"INSIDE"}`))
	}))

	employer, err := c.GetEmployer(context.Background(), "E-2001")
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, employer.Signatory)
}

func TestNewClientRequiresURL(t *testing.T) {
	origURL := conf.GetEnv("REFERRAL_DIRECTORY_URL")
	assert.NoError(t, conf.UnsetEnv(t, "REFERRAL_DIRECTORY_URL"))
	defer conf.SetEnv(t, "REFERRAL_DIRECTORY_URL", origURL)

	c, err := NewClient()
	assert.Nil(t, c)
	assert.EqualError(t, err, "invalid config, REFERRAL_DIRECTORY_URL must be set")
}
