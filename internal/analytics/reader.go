package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/linkhub/backend/internal/apperrors"
	"go.uber.org/zap"
)

const (
	opProfileSummary = "analytics.profile_summary"
	opLinkDetail     = "analytics.link_detail"

	// DefaultDaysBack is the reporting window used when callers do not pick one.
	DefaultDaysBack = 30
	maxDaysBack     = 365
	// RecentDayCount is how many daily points dashboards show.
	RecentDayCount = 10

	unknownLinkTitle = "Unknown Link"
	unknownCountry   = "Unknown"
)

var (
	errMissingOwner  = errors.New("owner identifier is required")
	errMissingLinkID = errors.New("link identifier is required")
)

// ProfileSummary aggregates all clicks on an owner's page.
type ProfileSummary struct {
	TotalClicks       int64   `json:"totalClicks"`
	UniqueVisitors    int64   `json:"uniqueVisitors"`
	CountriesReached  int64   `json:"countriesReached"`
	TotalLinksClicked int64   `json:"totalLinksClicked"`
	TopLinkTitle      *string `json:"topLinkTitle"`
	TopReferrer       *string `json:"topReferrer"`
	FirstClick        *string `json:"firstClick"`
	LastClick         *string `json:"lastClick"`
}

// DailyPoint is one day of activity for a link.
type DailyPoint struct {
	Date        string `json:"date"`
	Clicks      int64  `json:"clicks"`
	UniqueUsers int64  `json:"uniqueUsers"`
	Countries   int64  `json:"countries"`
}

// CountryShare is a link's click volume from one country.
type CountryShare struct {
	Country    string  `json:"country"`
	Clicks     int64   `json:"clicks"`
	Percentage float64 `json:"percentage"`
}

// LinkDetail is the per-link dashboard model.
type LinkDetail struct {
	LinkID           string         `json:"linkId"`
	LinkTitle        string         `json:"linkTitle"`
	LinkURL          string         `json:"linkUrl"`
	TotalClicks      int64          `json:"totalClicks"`
	UniqueUsers      int64          `json:"uniqueUsers"`
	CountriesReached int64          `json:"countriesReached"`
	DailyData        []DailyPoint   `json:"dailyData"`
	CountryData      []CountryShare `json:"countryData"`
}

// RecentDays returns the last n daily points and whether older points exist.
func (d LinkDetail) RecentDays(n int) ([]DailyPoint, bool) {
	if n <= 0 || len(d.DailyData) <= n {
		return d.DailyData, false
	}
	return d.DailyData[len(d.DailyData)-n:], true
}

type summaryRow struct {
	TotalClicks       float64         `json:"total_clicks"`
	UniqueUsers       float64         `json:"unique_users"`
	CountriesReached  float64         `json:"countries_reached"`
	TotalLinksClicked float64         `json:"total_links_clicked"`
	TopLinkTitle      json.RawMessage `json:"top_link_title"`
	TopReferrer       json.RawMessage `json:"top_referrer"`
	FirstClick        string          `json:"first_click"`
	LastClick         string          `json:"last_click"`
}

type linkRow struct {
	Date             string  `json:"date"`
	LinkID           string  `json:"linkId"`
	LinkTitle        string  `json:"linkTitle"`
	LinkURL          string  `json:"linkUrl"`
	TotalClicks      float64 `json:"total_clicks"`
	UniqueUsers      float64 `json:"unique_users"`
	CountriesReached float64 `json:"countries_reached"`
}

type countryRow struct {
	Country     string  `json:"country"`
	TotalClicks float64 `json:"total_clicks"`
	Percentage  float64 `json:"percentage"`
}

type ReaderConfig struct {
	Sink   Sink
	Logger *zap.Logger
}

// Reader queries aggregated analytics from the sink. Sink failures never reach
// the caller: the summary degrades to zeros and link detail to nil.
type Reader struct {
	sink   Sink
	logger *zap.Logger
}

func NewReader(cfg ReaderConfig) *Reader {
	sink := cfg.Sink
	if sink == nil {
		sink = disabledSink{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Reader{sink: sink, logger: logger}
}

// ProfileSummary returns the owner's totals over the last daysBack days.
func (r *Reader) ProfileSummary(ctx context.Context, ownerID string, daysBack int) (ProfileSummary, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return ProfileSummary{}, apperrors.New(apperrors.KindUnauthenticated, opProfileSummary, "missing_owner", errMissingOwner)
	}
	if !r.sink.Enabled() {
		return ProfileSummary{}, nil
	}

	var rows []summaryRow
	if err := r.sink.Query(ctx, PipeProfileSummary, queryParams(ownerID, "", daysBack), &rows); err != nil {
		r.logUpstream(opProfileSummary, PipeProfileSummary, err, zap.String("owner_id", ownerID))
		return ProfileSummary{}, nil
	}
	if len(rows) == 0 {
		return ProfileSummary{}, nil
	}
	row := rows[0]
	return ProfileSummary{
		TotalClicks:       int64(row.TotalClicks),
		UniqueVisitors:    int64(row.UniqueUsers),
		CountriesReached:  int64(row.CountriesReached),
		TotalLinksClicked: int64(row.TotalLinksClicked),
		TopLinkTitle:      firstString(row.TopLinkTitle),
		TopReferrer:       firstString(row.TopReferrer),
		FirstClick:        nonEmpty(row.FirstClick),
		LastClick:         nonEmpty(row.LastClick),
	}, nil
}

// LinkDetail returns per-day and per-country activity for one link, or nil
// when the sink holds no rows for it (or is unavailable).
func (r *Reader) LinkDetail(ctx context.Context, ownerID, linkID string, daysBack int) (*LinkDetail, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, apperrors.New(apperrors.KindUnauthenticated, opLinkDetail, "missing_owner", errMissingOwner)
	}
	linkID = strings.TrimSpace(linkID)
	if linkID == "" {
		return nil, apperrors.Validation(opLinkDetail, "linkId", errMissingLinkID.Error())
	}
	if !r.sink.Enabled() {
		return nil, nil
	}

	params := queryParams(ownerID, linkID, daysBack)
	fields := []zap.Field{zap.String("owner_id", ownerID), zap.String("link_id", linkID)}

	var rows []linkRow
	if err := r.sink.Query(ctx, PipeFastLinkAnalytics, params, &rows); err != nil {
		r.logUpstream(opLinkDetail, PipeFastLinkAnalytics, err, fields...)
		rows = nil
	}
	if len(rows) == 0 {
		if err := r.sink.Query(ctx, PipeLinkAnalytics, params, &rows); err != nil {
			r.logUpstream(opLinkDetail, PipeLinkAnalytics, err, fields...)
			return nil, nil
		}
		if len(rows) == 0 {
			return nil, nil
		}
	}

	detail := aggregateLinkRows(linkID, rows)

	var countries []countryRow
	if err := r.sink.Query(ctx, PipeLinkCountryAnalytics, params, &countries); err != nil {
		r.logUpstream(opLinkDetail, PipeLinkCountryAnalytics, err, fields...)
		countries = nil
	}
	detail.CountryData = make([]CountryShare, 0, len(countries))
	for _, row := range countries {
		country := strings.TrimSpace(row.Country)
		if country == "" {
			country = unknownCountry
		}
		detail.CountryData = append(detail.CountryData, CountryShare{
			Country:    country,
			Clicks:     int64(row.TotalClicks),
			Percentage: row.Percentage,
		})
	}
	return &detail, nil
}

func aggregateLinkRows(linkID string, rows []linkRow) LinkDetail {
	detail := LinkDetail{
		LinkID:    linkID,
		LinkTitle: rows[0].LinkTitle,
		LinkURL:   rows[0].LinkURL,
		DailyData: make([]DailyPoint, 0, len(rows)),
	}
	if strings.TrimSpace(detail.LinkTitle) == "" {
		detail.LinkTitle = unknownLinkTitle
	}
	for _, row := range rows {
		point := DailyPoint{
			Date:        row.Date,
			Clicks:      int64(row.TotalClicks),
			UniqueUsers: int64(row.UniqueUsers),
			Countries:   int64(row.CountriesReached),
		}
		detail.DailyData = append(detail.DailyData, point)
		detail.TotalClicks += point.Clicks
		if point.UniqueUsers > detail.UniqueUsers {
			detail.UniqueUsers = point.UniqueUsers
		}
		if point.Countries > detail.CountriesReached {
			detail.CountriesReached = point.Countries
		}
	}
	sort.SliceStable(detail.DailyData, func(i, j int) bool {
		return detail.DailyData[i].Date < detail.DailyData[j].Date
	})
	return detail
}

func queryParams(ownerID, linkID string, daysBack int) url.Values {
	if daysBack <= 0 {
		daysBack = DefaultDaysBack
	}
	if daysBack > maxDaysBack {
		daysBack = maxDaysBack
	}
	params := url.Values{
		"profileUserId": {ownerID},
		"days_back":     {strconv.Itoa(daysBack)},
	}
	if linkID != "" {
		params.Set("linkId", linkID)
	}
	return params
}

// firstString accepts either a string or an array whose first element is the value.
func firstString(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return nonEmpty(single)
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 {
		return nonEmpty(many[0])
	}
	return nil
}

func nonEmpty(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func (r *Reader) logUpstream(operation, pipe string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("pipe", pipe),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	r.logger.Warn("analytics query degraded", attrs...)
}
