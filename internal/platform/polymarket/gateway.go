package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyarb/internal/crypto"
	"github.com/alanyoungcy/polyarb/internal/domain"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// collateralDecimals is the fixed-point precision of USDC and outcome
// tokens on the exchange.
const collateralDecimals = 6

// GatewayConfig controls how orders are shaped before signing.
type GatewayConfig struct {
	// Funder holds the collateral; empty means the signing wallet.
	Funder string
	// SignatureType is 0 for EOA, 1 for a Polymarket proxy, 2 for a Safe.
	SignatureType  int
	FeeRateBps     int
	PricePrecision int32
	SizePrecision  int32
	AmountDecimals int32
}

// DefaultGatewayConfig returns settings for an EOA wallet on a 0.001 tick.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{PricePrecision: 3, SizePrecision: 2, AmountDecimals: 4}
}

// Gateway places signed limit orders on the CLOB. It satisfies the
// executor's order gateway.
type Gateway struct {
	clob   *ClobClient
	cfg    GatewayConfig
	logger *slog.Logger
	salt   func() int64
}

// NewGateway wraps a CLOB client.
func NewGateway(clob *ClobClient, cfg GatewayConfig, logger *slog.Logger) *Gateway {
	return &Gateway{
		clob:   clob,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "clob_gateway")),
		salt:   func() int64 { return rand.Int64N(1 << 53) },
	}
}

// Submit signs and posts one order.
func (g *Gateway) Submit(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	order, err := g.build(req)
	if err != nil {
		return domain.OrderResult{}, err
	}
	res, err := g.clob.PostOrder(ctx, order)
	if err != nil {
		return domain.OrderResult{}, err
	}
	out := res.ToOrderResult()
	g.logger.Info("polymarket: order posted",
		slog.String("asset_id", req.AssetID),
		slog.String("price", req.Price.String()),
		slog.String("size", req.Size.String()),
		slog.Bool("accepted", out.Accepted),
		slog.String("order_id", out.OrderID),
		slog.String("message", out.Message),
	)
	return out, nil
}

// Status polls one order.
func (g *Gateway) Status(ctx context.Context, orderID string) (domain.OrderStatusReport, error) {
	o, err := g.clob.GetOrder(ctx, orderID)
	if err != nil {
		return domain.OrderStatusReport{}, err
	}
	return o.ToStatusReport(), nil
}

// Cancel cancels one order.
func (g *Gateway) Cancel(ctx context.Context, orderID string) error {
	return g.clob.CancelOrder(ctx, orderID)
}

// Amounts converts a price and size into maker and taker amounts in the
// exchange's fixed-point units. Buyers give collateral and take tokens;
// sellers do the reverse.
func (cfg GatewayConfig) Amounts(side domain.OrderSide, price, size decimal.Decimal) (maker, taker string) {
	price = price.Round(cfg.PricePrecision)
	size = size.Truncate(cfg.SizePrecision)
	notional := price.Mul(size).Truncate(cfg.AmountDecimals)

	tokens := size.Shift(collateralDecimals).Truncate(0).String()
	collateral := notional.Shift(collateralDecimals).Truncate(0).String()
	if side == domain.OrderSideSell {
		return tokens, collateral
	}
	return collateral, tokens
}

func (g *Gateway) build(req domain.OrderRequest) (PostOrderRequest, error) {
	signer := g.clob.Signer()
	if signer == nil {
		return PostOrderRequest{}, fmt.Errorf("polymarket: %w: no signer configured", domain.ErrSigningFailed)
	}
	if !req.Size.Truncate(g.cfg.SizePrecision).IsPositive() {
		return PostOrderRequest{}, fmt.Errorf("polymarket: %w: size %s below lot size", domain.ErrOrderRejected, req.Size)
	}

	maker := signer.Address().Hex()
	if g.cfg.Funder != "" {
		maker = g.cfg.Funder
	}
	side := 0
	if req.Side == domain.OrderSideSell {
		side = 1
	}
	makerAmt, takerAmt := g.cfg.Amounts(req.Side, req.Price, req.Size)
	salt := g.salt()

	payload := crypto.OrderPayload{
		Salt:          strconv.FormatInt(salt, 10),
		Maker:         maker,
		Signer:        signer.Address().Hex(),
		Taker:         zeroAddress,
		TokenID:       req.AssetID,
		MakerAmount:   makerAmt,
		TakerAmount:   takerAmt,
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    strconv.Itoa(g.cfg.FeeRateBps),
		Side:          side,
		SignatureType: g.cfg.SignatureType,
	}
	sig, err := signer.SignOrder(payload, req.NegRisk)
	if err != nil {
		return PostOrderRequest{}, fmt.Errorf("polymarket: sign order: %w", err)
	}

	tif := req.TimeInForce
	if tif == "" {
		tif = domain.TimeInForceGTC
	}
	return PostOrderRequest{
		Order: SignedOrder{
			Salt:          salt,
			Maker:         payload.Maker,
			Signer:        payload.Signer,
			Taker:         payload.Taker,
			TokenID:       payload.TokenID,
			MakerAmount:   payload.MakerAmount,
			TakerAmount:   payload.TakerAmount,
			Expiration:    payload.Expiration,
			Nonce:         payload.Nonce,
			FeeRateBps:    payload.FeeRateBps,
			Side:          string(req.Side),
			SignatureType: payload.SignatureType,
			Signature:     sig,
		},
		Owner:     g.clob.Credentials().Key,
		OrderType: string(tif),
	}, nil
}
