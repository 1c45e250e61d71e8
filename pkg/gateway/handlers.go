package gateway

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/tickwire/tickwire/pkg/models"
	"github.com/tickwire/tickwire/pkg/protocol"
	"github.com/tickwire/tickwire/pkg/store"
	"github.com/tickwire/tickwire/pkg/subkey"
)

// RequestHandler implements the three-phase request flow: every decodable
// request is ACKed immediately, then answered with exactly one typed *_DATA
// or ERROR. Synchronous requests answer from tables or memory; the rest go
// through the task router and resolve on task.completed.
type RequestHandler struct {
	st      *store.Store
	subs    *SubscriptionManager
	router  *TaskRouter
	clients *ClientManager

	exchangeName string
	log          *slog.Logger
}

func NewRequestHandler(st *store.Store, subs *SubscriptionManager, router *TaskRouter, clients *ClientManager, exchangeName string) *RequestHandler {
	return &RequestHandler{
		st:           st,
		subs:         subs,
		router:       router,
		clients:      clients,
		exchangeName: exchangeName,
		log:          slog.With("component", "request_handler"),
	}
}

// HandleFrame processes one inbound WebSocket frame for a client.
func (h *RequestHandler) HandleFrame(ctx context.Context, client *Client, raw []byte) {
	req, werr := protocol.DecodeRequest(raw)
	if werr != nil {
		h.clients.Send(ctx, client.ID, protocol.Error(werr))
		return
	}

	h.clients.Send(ctx, client.ID, protocol.Ack(req.RequestID))

	msg, werr := h.dispatch(ctx, client, req)
	if werr != nil {
		h.clients.Send(ctx, client.ID, protocol.Error(werr))
		return
	}
	if msg != nil {
		h.clients.Send(ctx, client.ID, msg)
	}
	// nil/nil: the terminal response arrives later via the task router.
}

// dispatch routes one request. Returning (nil, nil) means the response is
// deferred to a task completion.
func (h *RequestHandler) dispatch(ctx context.Context, client *Client, req *protocol.Request) (*protocol.Message, *protocol.WireError) {
	switch req.Type {
	case protocol.TypeGetConfig:
		return h.getConfig(req)
	case protocol.TypeGetSearchSymbols:
		return h.searchSymbols(ctx, req)
	case protocol.TypeGetResolveSymbol:
		return h.resolveSymbol(ctx, req)
	case protocol.TypeGetKlines:
		return h.getKlines(ctx, client, req)
	case protocol.TypeGetQuotes:
		return h.getQuotes(ctx, client, req)
	case protocol.TypeGetServerTime:
		return nil, h.router.Dispatch(ctx, client.ID, req, models.TaskGetServerTime,
			models.AccountTaskPayload{RequestID: req.RequestID}, nil)
	case protocol.TypeGetSpotAccount:
		return nil, h.router.Dispatch(ctx, client.ID, req, models.TaskGetSpotAccount,
			models.AccountTaskPayload{RequestID: req.RequestID}, nil)
	case protocol.TypeGetFuturesAccount:
		return nil, h.router.Dispatch(ctx, client.ID, req, models.TaskGetFuturesAccount,
			models.AccountTaskPayload{RequestID: req.RequestID}, nil)
	case protocol.TypeSubscribe:
		return h.subscribe(ctx, client, req, true)
	case protocol.TypeUnsubscribe:
		return h.subscribe(ctx, client, req, false)
	case protocol.TypeGetSubscriptions:
		msg, merr := protocol.SubscriptionData(req.RequestID, h.subs.Snapshot(client.ID))
		return h.wrap(req.RequestID, msg, merr)
	case protocol.TypeGetStrategyMetadata:
		return h.strategyMetadata(ctx, req)
	case protocol.TypeGetStrategyMetadataByType:
		return h.strategyMetadataByType(ctx, req)
	case protocol.TypeCreateAlertConfig:
		return h.createAlert(ctx, req)
	case protocol.TypeUpdateAlertConfig:
		return h.updateAlert(ctx, req)
	case protocol.TypeDeleteAlertConfig:
		return h.deleteAlert(ctx, req)
	case protocol.TypeGetAlertConfig:
		return h.getAlert(ctx, req)
	case protocol.TypeListAlertConfigs:
		return h.listAlerts(ctx, req)
	case protocol.TypeEnableAlertConfig:
		return h.setAlertEnabled(ctx, req, true)
	case protocol.TypeDisableAlertConfig:
		return h.setAlertEnabled(ctx, req, false)
	case protocol.TypeListSignals:
		return h.listSignals(ctx, req)
	default:
		// DecodeRequest gates types; reaching here is a wiring bug.
		return nil, protocol.NewWireError(req.RequestID, protocol.ErrCodeUnknownRequestType,
			"unhandled request type %q", req.Type)
	}
}

// getConfig answers the static datafeed configuration.
func (h *RequestHandler) getConfig(req *protocol.Request) (*protocol.Message, *protocol.WireError) {
	cfg := protocol.DatafeedConfig{
		SupportedResolutions: subkey.Intervals(),
		SupportsSearch:       true,
		SupportsGroupRequest: true,
		Exchanges: []protocol.ExchangeDesc{
			{Value: h.exchangeName, Name: h.exchangeName, Desc: h.exchangeName},
		},
		SymbolsTypes: []protocol.SymbolTypeDesc{
			{Name: "Spot", Value: "spot"},
			{Name: "Futures", Value: "futures"},
		},
	}
	msg, merr := protocol.ConfigData(req.RequestID, cfg)
	return h.wrap(req.RequestID, msg, merr)
}

func (h *RequestHandler) searchSymbols(ctx context.Context, req *protocol.Request) (*protocol.Message, *protocol.WireError) {
	q, werr := req.SearchSymbols()
	if werr != nil {
		return nil, werr
	}

	marketType := ""
	switch q.SymbolType {
	case "spot":
		marketType = subkey.MarketSpot
	case "futures":
		marketType = subkey.MarketFutures
	}

	infos, err := h.st.ExchangeInfo.Search(ctx, q.Query, marketType, q.Limit)
	if err != nil {
		return nil, h.internal(req.RequestID, "symbol search failed", err)
	}

	results := make([]protocol.SymbolSearchResult, 0, len(infos))
	for _, info := range infos {
		results = append(results, protocol.SymbolSearchResult{
			Symbol:      info.Symbol,
			FullName:    canonicalSymbolFor(info),
			Description: info.BaseAsset + "/" + info.QuoteAsset,
			Exchange:    info.Exchange,
			Type:        marketTypeLabel(info.MarketType),
		})
	}
	msg, merr := protocol.SearchSymbolsData(req.RequestID, results)
	return h.wrap(req.RequestID, msg, merr)
}

func (h *RequestHandler) resolveSymbol(ctx context.Context, req *protocol.Request) (*protocol.Message, *protocol.WireError) {
	q, werr := req.ResolveSymbol()
	if werr != nil {
		return nil, werr
	}

	exchange, symbol, suffix, err := subkey.SplitCanonicalSymbol(q.Symbol)
	if err != nil {
		return nil, protocol.NewWireError(req.RequestID, protocol.ErrCodeInvalidRequest, "%v", err)
	}
	marketType := subkey.MarketSpot
	if suffix == subkey.SuffixPerpetual {
		marketType = subkey.MarketFutures
	}

	info, err := h.st.ExchangeInfo.Get(ctx, exchange, marketType, symbol)
	if errors.Is(err, store.ErrNotFound) {
		return nil, protocol.NewWireError(req.RequestID, protocol.ErrCodeNotFound, "unknown symbol %q", q.Symbol)
	}
	if err != nil {
		return nil, h.internal(req.RequestID, "symbol resolve failed", err)
	}

	desc := protocol.SymbolDescriptor{
		Name:                 info.Symbol,
		Ticker:               canonicalSymbolFor(*info),
		Description:          info.BaseAsset + "/" + info.QuoteAsset,
		Type:                 marketTypeLabel(info.MarketType),
		Exchange:             info.Exchange,
		Session:              "24x7",
		Timezone:             "Etc/UTC",
		MinMov:               1,
		PriceScale:           priceScale(info.PricePrecision),
		HasIntraday:          true,
		HasDaily:             true,
		HasWeeklyAndMonthly:  true,
		SupportedResolutions: subkey.Intervals(),
		VolumePrecision:      info.QtyPrecision,
		DataStatus:           "streaming",
	}
	msg, merr := protocol.ResolveSymbolData(req.RequestID, desc)
	return h.wrap(req.RequestID, msg, merr)
}

// getKlines is cache-first: when klines_history already holds the bars at
// both aligned endpoints of the requested range, the whole range is served
// without touching the exchange. Otherwise the request becomes a
// get_klines task and resolves when the worker has backfilled the table.
func (h *RequestHandler) getKlines(ctx context.Context, client *Client, req *protocol.Request) (*protocol.Message, *protocol.WireError) {
	q, werr := req.Klines()
	if werr != nil {
		return nil, werr
	}

	fromBucket := subkey.AlignOpenTime(q.FromTime, q.Interval)
	toBucket := subkey.AlignOpenTime(q.ToTime, q.Interval)

	haveFrom, err := h.st.Klines.HasBar(ctx, q.Symbol, q.Interval, fromBucket)
	if err != nil {
		return nil, h.internal(req.RequestID, "kline probe failed", err)
	}
	haveTo := false
	if haveFrom {
		haveTo, err = h.st.Klines.HasBar(ctx, q.Symbol, q.Interval, toBucket)
		if err != nil {
			return nil, h.internal(req.RequestID, "kline probe failed", err)
		}
	}

	if haveFrom && haveTo {
		bars, err := h.st.Klines.Range(ctx, q.Symbol, q.Interval, fromBucket, q.ToTime, q.Limit)
		if err != nil {
			return nil, h.internal(req.RequestID, "kline read failed", err)
		}
		msg, merr := protocol.KlinesData(req.RequestID, q.Symbol, q.Interval, bars)
		return h.wrap(req.RequestID, msg, merr)
	}

	payload := models.KlinesTaskPayload{
		Symbol:    q.Symbol,
		Interval:  q.Interval,
		FromTime:  q.FromTime,
		ToTime:    q.ToTime,
		Limit:     q.Limit,
		RequestID: req.RequestID,
	}
	return nil, h.router.Dispatch(ctx, client.ID, req, models.TaskGetKlines, payload, q)
}

func (h *RequestHandler) getQuotes(ctx context.Context, client *Client, req *protocol.Request) (*protocol.Message, *protocol.WireError) {
	q, werr := req.Quotes()
	if werr != nil {
		return nil, werr
	}
	payload := models.QuotesTaskPayload{
		Symbols:    q.Symbols,
		MarketType: q.MarketType,
		RequestID:  req.RequestID,
	}
	return nil, h.router.Dispatch(ctx, client.ID, req, models.TaskGetQuotes, payload, nil)
}

func (h *RequestHandler) subscribe(ctx context.Context, client *Client, req *protocol.Request, add bool) (*protocol.Message, *protocol.WireError) {
	q, werr := req.Subscriptions()
	if werr != nil {
		return nil, werr
	}

	var err error
	if add {
		err = h.subs.Subscribe(ctx, client.ID, q.Keys)
	} else {
		err = h.subs.Unsubscribe(ctx, client.ID, q.Keys)
	}
	if err != nil {
		return nil, h.internal(req.RequestID, "subscription change failed", err)
	}
	msg, merr := protocol.SubscriptionData(req.RequestID, h.subs.Snapshot(client.ID))
	return h.wrap(req.RequestID, msg, merr)
}

func (h *RequestHandler) strategyMetadata(ctx context.Context, req *protocol.Request) (*protocol.Message, *protocol.WireError) {
	metas, err := h.st.Metadata.List(ctx)
	if err != nil {
		return nil, h.internal(req.RequestID, "strategy metadata read failed", err)
	}
	msg, merr := protocol.StrategyMetadataData(req.RequestID, metas)
	return h.wrap(req.RequestID, msg, merr)
}

func (h *RequestHandler) strategyMetadataByType(ctx context.Context, req *protocol.Request) (*protocol.Message, *protocol.WireError) {
	q, werr := req.StrategyMetadataByType()
	if werr != nil {
		return nil, werr
	}
	meta, err := h.st.Metadata.Get(ctx, q.StrategyType)
	if errors.Is(err, store.ErrNotFound) {
		return nil, protocol.NewWireError(req.RequestID, protocol.ErrCodeNotFound, "unknown strategy %q", q.StrategyType)
	}
	if err != nil {
		return nil, h.internal(req.RequestID, "strategy metadata read failed", err)
	}
	msg, merr := protocol.StrategyMetadataData(req.RequestID, []models.StrategyMetadata{*meta})
	return h.wrap(req.RequestID, msg, merr)
}

func (h *RequestHandler) createAlert(ctx context.Context, req *protocol.Request) (*protocol.Message, *protocol.WireError) {
	q, werr := req.CreateAlert()
	if werr != nil {
		return nil, werr
	}

	params, err := protocol.SnakeizeJSON(q.Params)
	if err != nil {
		return nil, protocol.NewWireError(req.RequestID, protocol.ErrCodeInvalidRequest, "invalid params: %v", err)
	}
	if len(params) == 0 {
		params = []byte(`{}`)
	}

	enabled := true
	if q.Enabled != nil {
		enabled = *q.Enabled
	}

	alert := &models.AlertConfig{
		ID:           uuid.New(),
		Name:         q.Name,
		Description:  q.Description,
		StrategyType: q.StrategyType,
		Symbol:       q.Symbol,
		Interval:     q.Interval,
		TriggerType:  models.TriggerType(q.TriggerType),
		Params:       params,
		Enabled:      enabled,
	}
	if err := h.st.Alerts.Create(ctx, alert); err != nil {
		return nil, h.internal(req.RequestID, "alert create failed", err)
	}
	msg, merr := protocol.AlertConfigData(req.RequestID, alert)
	return h.wrap(req.RequestID, msg, merr)
}

func (h *RequestHandler) updateAlert(ctx context.Context, req *protocol.Request) (*protocol.Message, *protocol.WireError) {
	q, id, werr := req.UpdateAlert()
	if werr != nil {
		return nil, werr
	}

	update := models.AlertConfigUpdate{
		Name:        q.Name,
		Description: q.Description,
		Symbol:      q.Symbol,
		Interval:    q.Interval,
		Enabled:     q.Enabled,
	}
	if q.TriggerType != nil {
		t := models.TriggerType(*q.TriggerType)
		update.TriggerType = &t
	}
	if q.Params != nil {
		params, err := protocol.SnakeizeJSON(*q.Params)
		if err != nil {
			return nil, protocol.NewWireError(req.RequestID, protocol.ErrCodeInvalidRequest, "invalid params: %v", err)
		}
		update.Params = &params
	}

	alert, err := h.st.Alerts.Update(ctx, id, update)
	if errors.Is(err, store.ErrNotFound) {
		return nil, protocol.NewWireError(req.RequestID, protocol.ErrCodeNotFound, "alert %s not found", id)
	}
	if err != nil {
		return nil, h.internal(req.RequestID, "alert update failed", err)
	}
	msg, merr := protocol.AlertConfigData(req.RequestID, alert)
	return h.wrap(req.RequestID, msg, merr)
}

func (h *RequestHandler) deleteAlert(ctx context.Context, req *protocol.Request) (*protocol.Message, *protocol.WireError) {
	id, werr := req.AlertID()
	if werr != nil {
		return nil, werr
	}
	err := h.st.Alerts.Delete(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, protocol.NewWireError(req.RequestID, protocol.ErrCodeNotFound, "alert %s not found", id)
	}
	if err != nil {
		return nil, h.internal(req.RequestID, "alert delete failed", err)
	}
	msg, merr := protocol.AlertConfigDeleted(req.RequestID, id)
	return h.wrap(req.RequestID, msg, merr)
}

func (h *RequestHandler) getAlert(ctx context.Context, req *protocol.Request) (*protocol.Message, *protocol.WireError) {
	id, werr := req.AlertID()
	if werr != nil {
		return nil, werr
	}
	alert, err := h.st.Alerts.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, protocol.NewWireError(req.RequestID, protocol.ErrCodeNotFound, "alert %s not found", id)
	}
	if err != nil {
		return nil, h.internal(req.RequestID, "alert read failed", err)
	}
	msg, merr := protocol.AlertConfigData(req.RequestID, alert)
	return h.wrap(req.RequestID, msg, merr)
}

func (h *RequestHandler) listAlerts(ctx context.Context, req *protocol.Request) (*protocol.Message, *protocol.WireError) {
	q, werr := req.ListAlerts()
	if werr != nil {
		return nil, werr
	}
	alerts, err := h.st.Alerts.List(ctx, q.EnabledOnly)
	if err != nil {
		return nil, h.internal(req.RequestID, "alert list failed", err)
	}
	if q.Symbol != "" {
		filtered := alerts[:0]
		for _, a := range alerts {
			if a.Symbol == q.Symbol {
				filtered = append(filtered, a)
			}
		}
		alerts = filtered
	}
	msg, merr := protocol.AlertConfigList(req.RequestID, alerts)
	return h.wrap(req.RequestID, msg, merr)
}

func (h *RequestHandler) setAlertEnabled(ctx context.Context, req *protocol.Request, enabled bool) (*protocol.Message, *protocol.WireError) {
	id, werr := req.AlertID()
	if werr != nil {
		return nil, werr
	}
	alert, err := h.st.Alerts.SetEnabled(ctx, id, enabled)
	if errors.Is(err, store.ErrNotFound) {
		return nil, protocol.NewWireError(req.RequestID, protocol.ErrCodeNotFound, "alert %s not found", id)
	}
	if err != nil {
		return nil, h.internal(req.RequestID, "alert enable toggle failed", err)
	}
	msg, merr := protocol.AlertConfigData(req.RequestID, alert)
	return h.wrap(req.RequestID, msg, merr)
}

func (h *RequestHandler) listSignals(ctx context.Context, req *protocol.Request) (*protocol.Message, *protocol.WireError) {
	q, alertID, werr := req.ListSignals()
	if werr != nil {
		return nil, werr
	}

	filter := store.SignalFilter{AlertID: alertID, Limit: q.Limit}
	if q.FromTime > 0 {
		filter.Since = time.UnixMilli(q.FromTime)
	}
	signals, err := h.st.Signals.List(ctx, filter)
	if err != nil {
		return nil, h.internal(req.RequestID, "signal list failed", err)
	}
	msg, merr := protocol.SignalData(req.RequestID, signals)
	return h.wrap(req.RequestID, msg, merr)
}

// wrap converts a response-builder failure into an internal wire error.
func (h *RequestHandler) wrap(requestID string, msg *protocol.Message, err error) (*protocol.Message, *protocol.WireError) {
	if err != nil {
		h.log.Error("Failed to build response", "error", err)
		return nil, protocol.NewWireError(requestID, protocol.ErrCodeInternal, "failed to build response")
	}
	return msg, nil
}

func (h *RequestHandler) internal(requestID, summary string, err error) *protocol.WireError {
	h.log.Error(summary, "error", err)
	return protocol.NewWireError(requestID, protocol.ErrCodeInternal, "%s", summary)
}

func canonicalSymbolFor(info models.SymbolInfo) string {
	s := info.Exchange + ":" + info.Symbol
	if info.MarketType == subkey.MarketFutures {
		s += "." + subkey.SuffixPerpetual
	}
	return s
}

func marketTypeLabel(marketType string) string {
	if marketType == subkey.MarketFutures {
		return "futures"
	}
	return "spot"
}

func priceScale(precision int) int64 {
	if precision < 0 || precision > 12 {
		precision = 2
	}
	return int64(math.Pow10(precision))
}
