package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gavel/adapters/stream"
	"gavel/engine"
	"gavel/models"
	"gavel/scheduler"
)

// ServerImpl is the HTTP surface over the bidding engine. It owns the
// process lifecycle of the engine's collaborators: the settlement
// scheduler and the outbound event publishers.
type ServerImpl struct {
	db          *gorm.DB
	engine      *engine.Engine
	scheduler   *scheduler.Scheduler
	redisClient *redis.Client
	notifier    *stream.Publisher[engine.Event]
	external    *stream.Publisher[engine.Event]
	htmlChecker *bluemonday.Policy

	config ServerConfig
}

func NewServer(config ServerConfig) (*ServerImpl, error) {
	const op = "NewServer"

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s",
		config.DB.User, config.DB.Password, config.DB.Host, config.DB.Port, config.DB.Database, config.DB.Schema)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		// auctions and bids reference each other
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})
	notifier, err := stream.NewPublisher[engine.Event](redisClient, config.Redis.StreamKeys.Notifications)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create notification publisher, err=%w", op, err)
	}
	external, err := stream.NewPublisher[engine.Event](redisClient, config.Redis.StreamKeys.External)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create external feed publisher, err=%w", op, err)
	}

	eng := engine.New(db,
		engine.WithEventSink(notifier),
		engine.WithExternalSink(external),
	)
	sched := scheduler.New(eng, scheduler.WithSweepInterval(config.Sweep.Interval))

	return &ServerImpl{
		db:          db,
		engine:      eng,
		scheduler:   sched,
		redisClient: redisClient,
		notifier:    notifier,
		external:    external,
		htmlChecker: bluemonday.UGCPolicy(),
		config:      config,
	}, nil
}

// Migrate creates or updates the engine's tables.
func (impl *ServerImpl) Migrate() error {
	return models.AutoMigrate(impl.db)
}

func (impl *ServerImpl) Start() {
	impl.notifier.Start()
	impl.external.Start()
	impl.scheduler.Start()
}

func (impl *ServerImpl) Close() {
	impl.scheduler.Close()
	impl.notifier.Close()
	impl.external.Close()
	if err := impl.redisClient.Close(); err != nil {
		slog.Warn("Fail to close redis client", slog.Any("error", err))
	}
}

func (impl *ServerImpl) RegisterRoutes(router *gin.Engine) {
	router.POST("/auctions", impl.PostAuction)
	router.GET("/auctions", impl.GetAuctions)
	router.GET("/auctions/:auctionID", impl.GetAuction)
	router.DELETE("/auctions/:auctionID", impl.DeleteAuction)
	router.POST("/auctions/:auctionID/bids", impl.PostBid)
	router.POST("/auctions/:auctionID/auto-bids", impl.PostAutoBid)
}

type createAuctionRequest struct {
	SellerID            uuid.UUID       `json:"sellerID"`
	Title               string          `json:"title"`
	Description         string          `json:"description"`
	StartingPrice       decimal.Decimal `json:"startingPrice"`
	MinimumSellingPrice decimal.Decimal `json:"minimumSellingPrice"`
	EndsAt              time.Time       `json:"endsAt"`
}

type placeBidRequest struct {
	BidderID uuid.UUID       `json:"bidderID"`
	Amount   decimal.Decimal `json:"amount"`
}

type createAutoBidRequest struct {
	BidderID      uuid.UUID       `json:"bidderID"`
	MaximumAmount decimal.Decimal `json:"maximumAmount"`
}

type bidResponse struct {
	ID        uuid.UUID `json:"id"`
	BidderID  uuid.UUID `json:"bidderID"`
	Amount    string    `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

type auctionResponse struct {
	ID                  uuid.UUID     `json:"id"`
	SellerID            uuid.UUID     `json:"sellerID"`
	Title               string        `json:"title"`
	Description         string        `json:"description"`
	StartingPrice       string        `json:"startingPrice"`
	MinimumSellingPrice string        `json:"minimumSellingPrice"`
	CurrentPrice        string        `json:"currentPrice"`
	EndsAt              time.Time     `json:"endsAt"`
	CompletedAt         *time.Time    `json:"completedAt,omitempty"`
	WinningBidderID     *uuid.UUID    `json:"winningBidderID,omitempty"`
	Bids                []bidResponse `json:"bids,omitempty"`
}

func newAuctionResponse(auction *models.Auction) auctionResponse {
	resp := auctionResponse{
		ID:                  auction.ID,
		SellerID:            auction.SellerID,
		Title:               auction.Title,
		Description:         auction.Description,
		StartingPrice:       auction.StartingPrice.StringFixed(2),
		MinimumSellingPrice: auction.MinimumSellingPrice.StringFixed(2),
		CurrentPrice:        auction.StartingPrice.StringFixed(2),
		EndsAt:              auction.EndsAt,
		CompletedAt:         auction.CompletedAt,
		WinningBidderID:     auction.WinningBidderID,
	}
	if auction.CurrentBid != nil {
		resp.CurrentPrice = auction.CurrentBid.Amount.StringFixed(2)
	}
	for _, bid := range auction.Bids {
		resp.Bids = append(resp.Bids, bidResponse{
			ID:        bid.ID,
			BidderID:  bid.UserID,
			Amount:    bid.Amount.StringFixed(2),
			CreatedAt: bid.CreatedAt,
		})
	}
	return resp
}

// Create an auction
// (POST /auctions)
func (impl *ServerImpl) PostAuction(c *gin.Context) {
	const op = "PostAuction"
	var req createAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	auction, err := impl.engine.CreateAuction(c.Request.Context(), engine.CreateAuctionParams{
		SellerID:            req.SellerID,
		Title:               req.Title,
		Description:         impl.htmlChecker.Sanitize(req.Description),
		StartingPrice:       req.StartingPrice,
		MinimumSellingPrice: req.MinimumSellingPrice,
		EndsAt:              req.EndsAt,
	})
	if err != nil {
		impl.renderError(c, op, err)
		return
	}
	// fast path to settlement at the exact end time; the periodic sweep
	// is the safety net when this timer is lost
	impl.scheduler.ScheduleSettlement(auction.ID, auction.EndsAt)
	c.Header("Location", "/auctions/"+auction.ID.String())
	c.JSON(http.StatusCreated, newAuctionResponse(auction))
}

// Get auction details with its bid history
// (GET /auctions/{auctionID})
func (impl *ServerImpl) GetAuction(c *gin.Context) {
	const op = "GetAuction"
	auctionID, err := uuid.Parse(c.Param("auctionID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid auction id"})
		return
	}
	var auction models.Auction
	result := impl.db.WithContext(c.Request.Context()).
		Preload("Bids", func(db *gorm.DB) *gorm.DB {
			return db.Order(clause.OrderByColumn{Column: clause.Column{Name: "created_at"}, Desc: true})
		}).
		Preload("CurrentBid").
		First(&auction, "id = ?", auctionID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "auction not found"})
			return
		}
		impl.renderError(c, op, result.Error)
		return
	}
	c.JSON(http.StatusOK, newAuctionResponse(&auction))
}

// List settled auctions by outcome against the reserve price
// (GET /auctions?state=won|unsold)
func (impl *ServerImpl) GetAuctions(c *gin.Context) {
	const op = "GetAuctions"
	var auctions []models.Auction
	var err error
	switch c.Query("state") {
	case "won":
		auctions, err = impl.engine.WonAuctions(c.Request.Context())
	case "unsold":
		auctions, err = impl.engine.UnsoldAuctions(c.Request.Context())
	default:
		c.JSON(http.StatusBadRequest, gin.H{"message": "state must be won or unsold"})
		return
	}
	if err != nil {
		impl.renderError(c, op, err)
		return
	}
	output := make([]auctionResponse, len(auctions))
	for i := range auctions {
		output[i] = newAuctionResponse(&auctions[i])
	}
	c.JSON(http.StatusOK, gin.H{"count": len(output), "items": output})
}

// Delete an auction and its bids
// (DELETE /auctions/{auctionID})
func (impl *ServerImpl) DeleteAuction(c *gin.Context) {
	const op = "DeleteAuction"
	auctionID, err := uuid.Parse(c.Param("auctionID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid auction id"})
		return
	}
	if err := impl.engine.DeleteAuction(c.Request.Context(), auctionID); err != nil {
		impl.renderError(c, op, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Place a bid
// (POST /auctions/{auctionID}/bids)
func (impl *ServerImpl) PostBid(c *gin.Context) {
	const op = "PostBid"
	auctionID, err := uuid.Parse(c.Param("auctionID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid auction id"})
		return
	}
	var req placeBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	bid, err := impl.engine.PlaceBid(c.Request.Context(), auctionID, req.BidderID, req.Amount)
	if err != nil {
		impl.renderError(c, op, err)
		return
	}
	c.JSON(http.StatusCreated, bidResponse{
		ID:        bid.ID,
		BidderID:  bid.UserID,
		Amount:    bid.Amount.StringFixed(2),
		CreatedAt: bid.CreatedAt,
	})
}

// Register a proxy-bid directive
// (POST /auctions/{auctionID}/auto-bids)
func (impl *ServerImpl) PostAutoBid(c *gin.Context) {
	const op = "PostAutoBid"
	auctionID, err := uuid.Parse(c.Param("auctionID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid auction id"})
		return
	}
	var req createAutoBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	autoBid, err := impl.engine.CreateAutoBid(c.Request.Context(), auctionID, req.BidderID, req.MaximumAmount)
	if err != nil {
		impl.renderError(c, op, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":            autoBid.ID,
		"bidderID":      autoBid.UserID,
		"maximumAmount": autoBid.MaximumAmount.StringFixed(2),
	})
}

// renderError maps the engine's error taxonomy onto HTTP statuses:
// validation → 422 (410 for closed auctions), not found → 404,
// busy → 409, everything else → 500.
func (impl *ServerImpl) renderError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, engine.ErrAuctionClosed):
		c.JSON(http.StatusGone, gin.H{"message": err.Error()})
	case errors.Is(err, engine.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "auction not found"})
	case errors.Is(err, engine.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
	case engine.IsValidation(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": err.Error()})
	default:
		slog.Error("Request failed", slog.String("op", op), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
	}
}
