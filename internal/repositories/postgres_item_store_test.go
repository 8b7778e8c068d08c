package repositories

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"stockwatch/internal/models"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

var itemRowColumns = []string{"id", "name", "quantity", "rate_amount", "rate_period", "rate_unit", "min_stock_level", "last_updated", "last_decremented"}

func stringPtr(s string) *string { return &s }
func intPtr(i int) *int          { return &i }
func timePtr(t time.Time) *time.Time {
	return &t
}

type PostgresItemStoreTestSuite struct {
	suite.Suite
	mock    pgxmock.PgxPoolIface
	store   ItemStore
	context context.Context
	now     time.Time
}

func (suite *PostgresItemStoreTestSuite) SetupTest() {
	mock, err := pgxmock.NewPool()
	require.NoError(suite.T(), err)
	suite.mock = mock
	suite.store = NewPostgresItemStore(mock)
	suite.context = context.Background()
	suite.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func (suite *PostgresItemStoreTestSuite) TearDownTest() {
	assert.NoError(suite.T(), suite.mock.ExpectationsWereMet())
	suite.mock.Close()
}

func TestPostgresItemStoreTestSuite(t *testing.T) {
	suite.Run(t, new(PostgresItemStoreTestSuite))
}

func (suite *PostgresItemStoreTestSuite) TestListConsumable() {
	rows := pgxmock.NewRows(itemRowColumns).
		AddRow("milk", stringPtr("Milk"), 12, stringPtr("1.5"), intPtr(1), stringPtr("day"), intPtr(4), suite.now, timePtr(suite.now)).
		AddRow("rice", (*string)(nil), 3, stringPtr("0"), intPtr(1), stringPtr("week"), (*int)(nil), suite.now, (*time.Time)(nil))

	suite.mock.ExpectQuery(regexp.QuoteMeta(listConsumableItemsSQL)).WillReturnRows(rows)

	items, err := suite.store.ListConsumable(suite.context)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), items, 2)

	milk := items[0]
	assert.Equal(suite.T(), "Milk", milk.Name)
	assert.Equal(suite.T(), 12, milk.Quantity)
	assert.True(suite.T(), milk.ConsumptionRate.Amount.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(suite.T(), models.RateUnitDay, milk.ConsumptionRate.Unit)
	assert.Equal(suite.T(), 4, *milk.MinStockLevel)
	assert.True(suite.T(), milk.LastDecremented.Equal(suite.now))

	rice := items[1]
	assert.Empty(suite.T(), rice.Name)
	assert.Nil(suite.T(), rice.MinStockLevel)
	assert.True(suite.T(), rice.LastDecremented.IsZero())
	assert.ErrorIs(suite.T(), rice.ConsumptionRate.Validate(), models.ErrMalformedRate, "malformed rates reach the engine, which skips them")
}

func (suite *PostgresItemStoreTestSuite) TestGetOne_NotFound() {
	suite.mock.ExpectQuery(regexp.QuoteMeta(getItemSQL)).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	item, err := suite.store.GetOne(suite.context, "missing")
	assert.Nil(suite.T(), item)
	assert.ErrorIs(suite.T(), err, models.ErrItemNotFound)
}

func (suite *PostgresItemStoreTestSuite) TestUpsertMany_OneTransaction() {
	q := 7
	stamp := suite.now
	updates := []*models.ItemUpdate{
		{ID: "a", Quantity: &q, LastDecremented: suite.now, LastUpdated: &stamp},
		{ID: "b", LastDecremented: suite.now},
		{ID: "gone", Quantity: &q, LastDecremented: suite.now, LastUpdated: &stamp},
	}

	suite.mock.ExpectBegin()
	suite.mock.ExpectExec(regexp.QuoteMeta(updateItemQuantitySQL)).
		WithArgs("a", 7, suite.now, suite.now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	suite.mock.ExpectExec(regexp.QuoteMeta(updateItemAnchorSQL)).
		WithArgs("b", suite.now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	suite.mock.ExpectExec(regexp.QuoteMeta(updateItemQuantitySQL)).
		WithArgs("gone", 7, suite.now, suite.now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	suite.mock.ExpectCommit()

	result, err := suite.store.UpsertMany(suite.context, updates)
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), []string{"a", "b"}, result.Written)
	assert.ErrorIs(suite.T(), result.Failed["gone"], models.ErrStaleItem)
}

func (suite *PostgresItemStoreTestSuite) TestUpsertMany_RollsBackOnError() {
	q := 1
	updates := []*models.ItemUpdate{
		{ID: "a", LastDecremented: suite.now},
		{ID: "b", Quantity: &q, LastDecremented: suite.now, LastUpdated: &suite.now},
	}
	dbErr := errors.New("serialization failure")

	suite.mock.ExpectBegin()
	suite.mock.ExpectExec(regexp.QuoteMeta(updateItemAnchorSQL)).
		WithArgs("a", suite.now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	suite.mock.ExpectExec(regexp.QuoteMeta(updateItemQuantitySQL)).
		WithArgs("b", 1, suite.now, suite.now).
		WillReturnError(dbErr)
	suite.mock.ExpectRollback()

	result, err := suite.store.UpsertMany(suite.context, updates)
	assert.ErrorIs(suite.T(), err, dbErr)
	assert.Empty(suite.T(), result.Written, "nothing survives a rolled back batch")
	assert.Len(suite.T(), result.Failed, 2)
}

func (suite *PostgresItemStoreTestSuite) TestUpsertMany_BeginFails() {
	suite.mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	result, err := suite.store.UpsertMany(suite.context, []*models.ItemUpdate{{ID: "a", LastDecremented: suite.now}})
	assert.Error(suite.T(), err)
	assert.Contains(suite.T(), result.Failed, "a")
}

func (suite *PostgresItemStoreTestSuite) TestPut() {
	item := &models.Item{
		ID:              "milk",
		Name:            "Milk",
		Quantity:        6,
		ConsumptionRate: &models.ConsumptionRate{Amount: decimal.RequireFromString("0.5"), Period: 1, Unit: models.RateUnitDay},
		LastUpdated:     suite.now,
		LastDecremented: suite.now,
	}

	suite.mock.ExpectExec(regexp.QuoteMeta(putItemSQL)).
		WithArgs("milk", "Milk", 6, stringPtr("0.5"), intPtr(1), stringPtr("day"), (*int)(nil), suite.now, timePtr(suite.now)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(suite.T(), suite.store.Put(suite.context, item))
}

func (suite *PostgresItemStoreTestSuite) TestDelete() {
	suite.mock.ExpectExec(regexp.QuoteMeta(deleteItemSQL)).
		WithArgs("milk").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	assert.NoError(suite.T(), suite.store.Delete(suite.context, "milk"))
}
