package marketdata

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB database and collection names
const (
	mongoDBName          = "stock_screener"
	mongoPriceCollection = "price_history"
)

// mongoPriceDoc is the cached price-history document, one per symbol
type mongoPriceDoc struct {
	Symbol    string     `bson:"_id"`
	UpdatedAt time.Time  `bson:"updated_at"`
	BarCount  int        `bson:"bar_count"`
	Bars      []PriceBar `bson:"bars"`
}

// PriceCache is an optional same-day price-history cache backed by
// MongoDB. When no URI is configured the cache is disabled and every
// operation is a cheap no-op miss; cache errors never fail a scan.
type PriceCache struct {
	client      *mongo.Client
	database    *mongo.Database
	mu          sync.RWMutex
	isConnected bool
}

// NewPriceCache connects to MongoDB when uri is non-empty. A failed
// connection is logged and yields a disabled cache, not an error.
func NewPriceCache(uri string) *PriceCache {
	c := &PriceCache{}
	if uri == "" {
		log.Println("MONGODB_URI not set, price-history cache disabled")
		return c
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetMaxPoolSize(10).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		log.Printf("Failed to connect to MongoDB, price-history cache disabled: %v", err)
		return c
	}
	if err := client.Ping(ctx, nil); err != nil {
		log.Printf("Failed to ping MongoDB, price-history cache disabled: %v", err)
		client.Disconnect(ctx)
		return c
	}

	c.client = client
	c.database = client.Database(mongoDBName)
	c.isConnected = true
	log.Println("MongoDB price-history cache connected")
	return c
}

// Enabled reports whether the cache has a live connection
func (c *PriceCache) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// Get returns the cached bars for a symbol when the cached document was
// written today. Stale or missing documents are misses.
func (c *PriceCache) Get(ctx context.Context, symbol string) ([]PriceBar, bool) {
	if !c.Enabled() {
		return nil, false
	}

	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var doc mongoPriceDoc
	err := c.database.Collection(mongoPriceCollection).
		FindOne(opCtx, bson.M{"_id": symbol}).Decode(&doc)
	if err != nil {
		if err != mongo.ErrNoDocuments {
			log.Printf("[%s] Price cache read failed: %v", symbol, err)
		}
		return nil, false
	}

	today := time.Now().Format("2006-01-02")
	if doc.UpdatedAt.Format("2006-01-02") != today {
		return nil, false
	}
	return doc.Bars, true
}

// Put upserts the bars for a symbol
func (c *PriceCache) Put(ctx context.Context, symbol string, bars []PriceBar) error {
	if !c.Enabled() {
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	doc := mongoPriceDoc{
		Symbol:    symbol,
		UpdatedAt: time.Now(),
		BarCount:  len(bars),
		Bars:      bars,
	}

	opts := options.Replace().SetUpsert(true)
	_, err := c.database.Collection(mongoPriceCollection).
		ReplaceOne(opCtx, bson.M{"_id": symbol}, doc, opts)
	if err != nil {
		return fmt.Errorf("failed to cache price history for %s: %w", symbol, err)
	}
	return nil
}

// Close disconnects the underlying client
func (c *PriceCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.isConnected = false
	return c.client.Disconnect(ctx)
}
