package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"stockwatch/internal/caching"
	"stockwatch/internal/common"
	"stockwatch/internal/jobs/background"
	"stockwatch/internal/models"
	"stockwatch/internal/repositories/memory"
	"stockwatch/internal/services"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakeInvalidator struct {
	mu    sync.Mutex
	calls [][]caching.Collection
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, backend string, collections ...caching.Collection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, collections)
	return nil
}

type HandlersTestSuite struct {
	suite.Suite
	e           *echo.Echo
	clock       *common.FakeClock
	items       *memory.ItemStore
	alerts      *memory.AlertStore
	manager     *services.StockAlertManager
	registry    Registry
	invalidator *fakeInvalidator
	itemH       *ItemHandlers
	alertH      *AlertHandlers
}

func (suite *HandlersTestSuite) SetupTest() {
	suite.e = echo.New()
	suite.clock = common.NewFakeClock(time.Date(2024, 8, 1, 10, 0, 0, 0, time.UTC))
	suite.items = memory.NewItemStore()
	suite.alerts = memory.NewAlertStore()
	suite.manager = services.NewStockAlertManager("local", suite.items, suite.alerts, suite.clock, 10, nil)
	suite.registry = Registry{"local": {Items: suite.items, Alerts: suite.manager}}
	suite.invalidator = &fakeInvalidator{}
	suite.itemH = NewItemHandlers(suite.registry, suite.invalidator, suite.clock)
	suite.alertH = NewAlertHandlers(suite.registry, nil, 0)
}

func TestHandlersTestSuite(t *testing.T) {
	suite.Run(t, new(HandlersTestSuite))
}

func (suite *HandlersTestSuite) request(method, body string, names []string, values []string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := suite.e.NewContext(req, rec)
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	return c, rec
}

func (suite *HandlersTestSuite) TestPutItem_ParsesTextRateAndRaisesAlert() {
	c, rec := suite.request(http.MethodPut, `{"name": "Milk", "quantity": 4, "consumption_rate": "1 per day"}`,
		[]string{"backend", "id"}, []string{"local", "milk"})

	require.NoError(suite.T(), suite.itemH.PutItem(c))
	assert.Equal(suite.T(), http.StatusOK, rec.Code)

	item, err := suite.items.GetOne(context.Background(), "milk")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.RateUnitDay, item.ConsumptionRate.Unit)
	assert.True(suite.T(), item.LastDecremented.Equal(suite.clock.Now()), "new items start consuming now")

	alert, err := suite.alerts.Get(context.Background(), "milk")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 4, alert.Quantity)
	assert.Equal(suite.T(), [][]caching.Collection{{caching.CollectionItems, caching.CollectionAlerts}}, suite.invalidator.calls)
}

func (suite *HandlersTestSuite) TestPutItem_KeepsDecrementAnchorOnEdit() {
	anchor := suite.clock.Now().Add(-36 * time.Hour)
	require.NoError(suite.T(), suite.items.Put(context.Background(), &models.Item{ID: "rice", Quantity: 40, LastDecremented: anchor}))
	suite.clock.Advance(time.Hour)

	c, rec := suite.request(http.MethodPut, `{"quantity": 45, "consumption_rate": {"amount": "2", "unit": "day"}}`,
		[]string{"backend", "id"}, []string{"local", "rice"})

	require.NoError(suite.T(), suite.itemH.PutItem(c))
	assert.Equal(suite.T(), http.StatusOK, rec.Code)

	item, err := suite.items.GetOne(context.Background(), "rice")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 45, item.Quantity)
	assert.True(suite.T(), item.LastDecremented.Equal(anchor))
	assert.Equal(suite.T(), [][]caching.Collection{{caching.CollectionItems}}, suite.invalidator.calls)
}

func (suite *HandlersTestSuite) TestPutItem_RejectsMalformedRate() {
	c, rec := suite.request(http.MethodPut, `{"quantity": 4, "consumption_rate": {"amount": 0, "unit": "day"}}`,
		[]string{"backend", "id"}, []string{"local", "milk"})

	require.NoError(suite.T(), suite.itemH.PutItem(c))
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)

	_, err := suite.items.GetOne(context.Background(), "milk")
	assert.ErrorIs(suite.T(), err, models.ErrItemNotFound)
}

func (suite *HandlersTestSuite) TestPutItem_RequiresQuantity() {
	c, rec := suite.request(http.MethodPut, `{"name": "Milk"}`, []string{"backend", "id"}, []string{"local", "milk"})

	require.NoError(suite.T(), suite.itemH.PutItem(c))
	assert.Equal(suite.T(), http.StatusBadRequest, rec.Code)
}

func (suite *HandlersTestSuite) TestUnknownBackend() {
	c, _ := suite.request(http.MethodGet, "", []string{"backend", "id"}, []string{"mars", "milk"})

	err := suite.itemH.GetItem(c)
	var httpErr *echo.HTTPError
	require.ErrorAs(suite.T(), err, &httpErr)
	assert.Equal(suite.T(), http.StatusNotFound, httpErr.Code)
}

func (suite *HandlersTestSuite) TestDeleteItem_RetractsAlert() {
	ctx := context.Background()
	require.NoError(suite.T(), suite.items.Put(ctx, &models.Item{ID: "soap", Quantity: 1}))
	_, err := suite.manager.CheckAndUpdateAlert(ctx, services.AlertCheck{ItemID: "soap"})
	require.NoError(suite.T(), err)

	c, rec := suite.request(http.MethodDelete, "", []string{"backend", "id"}, []string{"local", "soap"})
	require.NoError(suite.T(), suite.itemH.DeleteItem(c))
	assert.Equal(suite.T(), http.StatusNoContent, rec.Code)

	_, err = suite.alerts.Get(ctx, "soap")
	assert.ErrorIs(suite.T(), err, models.ErrAlertNotFound)
}

func (suite *HandlersTestSuite) TestAcknowledgeAlert() {
	ctx := context.Background()
	require.NoError(suite.T(), suite.items.Put(ctx, &models.Item{ID: "soap", Quantity: 1}))
	_, err := suite.manager.CheckAndUpdateAlert(ctx, services.AlertCheck{ItemID: "soap"})
	require.NoError(suite.T(), err)

	c, rec := suite.request(http.MethodPost, "", []string{"backend", "id"}, []string{"local", "soap"})
	require.NoError(suite.T(), suite.alertH.AcknowledgeAlert(c))
	assert.Equal(suite.T(), http.StatusOK, rec.Code)

	alert, err := suite.alerts.Get(ctx, "soap")
	require.NoError(suite.T(), err)
	assert.True(suite.T(), alert.Acknowledged)
}

func (suite *HandlersTestSuite) TestAcknowledgeAlert_NotFound() {
	c, rec := suite.request(http.MethodPost, "", []string{"backend", "id"}, []string{"local", "ghost"})

	require.NoError(suite.T(), suite.alertH.AcknowledgeAlert(c))
	assert.Equal(suite.T(), http.StatusNotFound, rec.Code)
}

func (suite *HandlersTestSuite) TestListAlerts() {
	ctx := context.Background()
	require.NoError(suite.T(), suite.items.Put(ctx, &models.Item{ID: "soap", Name: "Soap", Quantity: 1}))
	_, err := suite.manager.CheckAndUpdateAlert(ctx, services.AlertCheck{ItemID: "soap"})
	require.NoError(suite.T(), err)

	c, rec := suite.request(http.MethodGet, "", []string{"backend"}, []string{"local"})
	require.NoError(suite.T(), suite.alertH.ListAlerts(c))
	assert.Equal(suite.T(), http.StatusOK, rec.Code)

	var body struct {
		Alerts []models.Alert `json:"alerts"`
	}
	require.NoError(suite.T(), json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(suite.T(), body.Alerts, 1)
	assert.Equal(suite.T(), "Soap", body.Alerts[0].ItemName)
}

func (suite *HandlersTestSuite) TestForeground() {
	engine := services.NewDecrementEngine("local", suite.items, suite.manager, nil)
	scheduler, err := background.NewSyncScheduler(suite.clock, suite.invalidator, nil, background.DefaultIntervalBuffer,
		&background.Backend{Engine: engine, MinInterval: time.Hour})
	require.NoError(suite.T(), err)
	defer func() { _ = scheduler.Stop() }()

	h := NewSyncHandlers(scheduler)

	c, rec := suite.request(http.MethodPost, "", nil, nil)
	require.NoError(suite.T(), h.Foreground(c))
	assert.Equal(suite.T(), http.StatusOK, rec.Code)

	var body cycleResponse
	require.NoError(suite.T(), json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(suite.T(), background.TriggerForeground, body.Trigger)
	assert.Len(suite.T(), body.Passes, 1)

	c, rec = suite.request(http.MethodPost, "", nil, nil)
	require.NoError(suite.T(), h.Foreground(c))
	require.NoError(suite.T(), json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(suite.T(), []string{"local"}, body.Throttled)
}
