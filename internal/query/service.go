// Package query provides the read-side service for the address engine:
// argument validation, per-call timeouts, pagination, and canonical
// ordering on top of a store.Store.
package query

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/geodata-tw/doorplate/internal/config"
	"github.com/geodata-tw/doorplate/internal/model"
	"github.com/geodata-tw/doorplate/internal/store"
)

var (
	// ErrInvalidArgument marks caller mistakes: bad coordinates,
	// non-positive radius, empty required parameters.
	ErrInvalidArgument = eris.New("query: invalid argument")

	// ErrQueryTimeout marks a query that exceeded its deadline.
	ErrQueryTimeout = eris.New("query: timeout")

	// ErrStorageUnavailable marks a backend failure unrelated to the
	// caller's arguments.
	ErrStorageUnavailable = eris.New("query: storage unavailable")

	// ErrNotFound marks a lookup whose subject does not exist.
	ErrNotFound = eris.New("query: not found")
)

// Service answers read queries against the address data set.
type Service struct {
	store           store.Store
	timeout         time.Duration
	defaultPageSize int
	maxPageSize     int
	nearbyLimit     int
}

func New(s store.Store, cfg config.QueryConfig) *Service {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	defaultPageSize := cfg.DefaultPageSize
	if defaultPageSize <= 0 {
		defaultPageSize = 50
	}
	maxPageSize := cfg.MaxPageSize
	if maxPageSize <= 0 {
		maxPageSize = 500
	}
	nearbyLimit := cfg.NearbyLimit
	if nearbyLimit <= 0 {
		nearbyLimit = 100
	}
	return &Service{
		store:           s,
		timeout:         timeout,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
		nearbyLimit:     nearbyLimit,
	}
}

// withTimeout bounds a single query. Deadline expiry is reported as
// ErrQueryTimeout, anything else from the store as
// ErrStorageUnavailable.
func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) mapStoreErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return eris.Wrap(ErrQueryTimeout, err.Error())
	}
	return eris.Wrap(ErrStorageUnavailable, err.Error())
}

// Districts lists all districts that have at least one address.
func (s *Service) Districts(ctx context.Context) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	out, err := s.store.ListDistricts(ctx)
	if err != nil {
		return nil, s.mapStoreErr(ctx, err)
	}
	return out, nil
}

// Villages lists the villages of one district.
func (s *Service) Villages(ctx context.Context, district string) ([]string, error) {
	district = strings.TrimSpace(district)
	if district == "" {
		return nil, eris.Wrap(ErrInvalidArgument, "district is required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	out, err := s.store.ListVillages(ctx, district)
	if err != nil {
		return nil, s.mapStoreErr(ctx, err)
	}
	if len(out) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "district %s", district)
	}
	return out, nil
}

// Neighborhoods lists the neighborhood numbers of one village.
func (s *Service) Neighborhoods(ctx context.Context, district, village string) ([]int, error) {
	district = strings.TrimSpace(district)
	village = strings.TrimSpace(village)
	if district == "" || village == "" {
		return nil, eris.Wrap(ErrInvalidArgument, "district and village are required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	out, err := s.store.ListNeighborhoods(ctx, district, village)
	if err != nil {
		return nil, s.mapStoreErr(ctx, err)
	}
	if len(out) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "village %s/%s", district, village)
	}
	return out, nil
}

// Stats returns the cached statistics row for a district, village, or
// neighborhood, selected by which arguments are set.
func (s *Service) Stats(ctx context.Context, district, village string, neighborhood int) (*model.AddressStats, error) {
	district = strings.TrimSpace(district)
	village = strings.TrimSpace(village)
	if district == "" {
		return nil, eris.Wrap(ErrInvalidArgument, "district is required")
	}
	if neighborhood < 0 {
		return nil, eris.Wrap(ErrInvalidArgument, "neighborhood must not be negative")
	}
	if neighborhood > 0 && village == "" {
		return nil, eris.Wrap(ErrInvalidArgument, "neighborhood requires a village")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	st, err := s.store.GetStats(ctx, district, village, neighborhood)
	if err != nil {
		return nil, s.mapStoreErr(ctx, err)
	}
	if st == nil {
		return nil, eris.Wrapf(ErrNotFound, "stats for %s/%s/%d", district, village, neighborhood)
	}
	return st, nil
}

// Overview returns dataset-wide totals with a per-district breakdown.
func (s *Service) Overview(ctx context.Context) (*store.Overview, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	o, err := s.store.GetOverview(ctx)
	if err != nil {
		return nil, s.mapStoreErr(ctx, err)
	}
	return o, nil
}

// NeighborhoodAddresses returns every address of one neighborhood in
// canonical door-number order.
func (s *Service) NeighborhoodAddresses(ctx context.Context, district, village string, neighborhood int) ([]model.Address, error) {
	district = strings.TrimSpace(district)
	village = strings.TrimSpace(village)
	if district == "" || village == "" || neighborhood <= 0 {
		return nil, eris.Wrap(ErrInvalidArgument, "district, village and a positive neighborhood are required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	addrs, err := s.store.NeighborhoodAddresses(ctx, district, village, neighborhood)
	if err != nil {
		return nil, s.mapStoreErr(ctx, err)
	}
	if len(addrs) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "neighborhood %s/%s/%d", district, village, neighborhood)
	}
	sortCanonical(addrs)
	return addrs, nil
}

// NeighborhoodDetail pairs a neighborhood's cached statistics with its
// full address list.
type NeighborhoodDetail struct {
	Stats     *model.AddressStats `json:"stats,omitempty"`
	Addresses []model.Address     `json:"addresses"`
}

// NeighborhoodDetail returns one neighborhood's statistics row together
// with its addresses in canonical order. A missing stats row (cache not
// yet rebuilt) leaves Stats nil rather than failing the lookup.
func (s *Service) NeighborhoodDetail(ctx context.Context, district, village string, neighborhood int) (*NeighborhoodDetail, error) {
	addrs, err := s.NeighborhoodAddresses(ctx, district, village, neighborhood)
	if err != nil {
		return nil, err
	}

	st, err := s.Stats(ctx, district, village, neighborhood)
	if err != nil && !eris.Is(err, ErrNotFound) {
		return nil, err
	}
	return &NeighborhoodDetail{Stats: st, Addresses: addrs}, nil
}

// SearchRequest are the parameters of a keyword search.
type SearchRequest struct {
	Keyword  string
	District string
	Village  string
	Page     int
	PerPage  int
}

// Search runs a keyword search with pagination. At least one of
// Keyword, District, or Village must be set.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]model.Address, model.Pagination, error) {
	req.Keyword = strings.TrimSpace(req.Keyword)
	req.District = strings.TrimSpace(req.District)
	req.Village = strings.TrimSpace(req.Village)
	if req.Keyword == "" && req.District == "" && req.Village == "" {
		return nil, model.Pagination{}, eris.Wrap(ErrInvalidArgument, "keyword, district or village is required")
	}

	page := req.Page
	if page <= 0 {
		page = 1
	}
	perPage := req.PerPage
	if perPage <= 0 {
		perPage = s.defaultPageSize
	}
	if perPage > s.maxPageSize {
		perPage = s.maxPageSize
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	addrs, total, err := s.store.SearchAddresses(ctx, store.SearchFilter{
		Keyword:  req.Keyword,
		District: req.District,
		Village:  req.Village,
		Limit:    perPage,
		Offset:   (page - 1) * perPage,
	})
	if err != nil {
		return nil, model.Pagination{}, s.mapStoreErr(ctx, err)
	}

	pages := (total + perPage - 1) / perPage
	return addrs, model.Pagination{
		Page:    page,
		PerPage: perPage,
		Total:   total,
		Pages:   pages,
	}, nil
}

// Nearby returns addresses within radiusMeters of a point, closest
// first. The result is capped at the configured limit.
func (s *Service) Nearby(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]model.AddressDistance, error) {
	if lat < -90 || lat > 90 {
		return nil, eris.Wrapf(ErrInvalidArgument, "latitude %v out of range", lat)
	}
	if lng < -180 || lng > 180 {
		return nil, eris.Wrapf(ErrInvalidArgument, "longitude %v out of range", lng)
	}
	if radiusMeters <= 0 {
		return nil, eris.Wrapf(ErrInvalidArgument, "radius %v must be positive", radiusMeters)
	}
	if limit <= 0 || limit > s.nearbyLimit {
		limit = s.nearbyLimit
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	out, err := s.store.SearchNearby(ctx, lat, lng, radiusMeters, limit)
	if err != nil {
		return nil, s.mapStoreErr(ctx, err)
	}
	return out, nil
}

// sortCanonical orders addresses the way a human reads a street list:
// component by component, with digit runs compared numerically, so
// "3號" sorts before "25號".
func sortCanonical(addrs []model.Address) {
	sort.SliceStable(addrs, func(i, j int) bool {
		a, b := addrs[i], addrs[j]
		for _, pair := range [][2]string{
			{a.Street, b.Street},
			{a.Area, b.Area},
			{a.Lane, b.Lane},
			{a.Alley, b.Alley},
			{a.Number, b.Number},
		} {
			if c := compareNatural(pair[0], pair[1]); c != 0 {
				return c < 0
			}
		}
		return a.ID < b.ID
	})
}

// compareNatural compares strings segment by segment, treating maximal
// digit runs as numbers.
func compareNatural(a, b string) int {
	for a != "" && b != "" {
		aDigits, aRest := splitLeading(a)
		bDigits, bRest := splitLeading(b)

		if aDigits != "" && bDigits != "" {
			an := strings.TrimLeft(aDigits, "0")
			bn := strings.TrimLeft(bDigits, "0")
			if len(an) != len(bn) {
				if len(an) < len(bn) {
					return -1
				}
				return 1
			}
			if an != bn {
				if an < bn {
					return -1
				}
				return 1
			}
		} else if aDigits != "" || bDigits != "" {
			// Digits sort before non-digits.
			if aDigits != "" {
				return -1
			}
			return 1
		} else {
			// Both start with a non-digit rune.
			ar, br := firstRune(a), firstRune(b)
			if ar != br {
				if ar < br {
					return -1
				}
				return 1
			}
			aRest = a[len(string(ar)):]
			bRest = b[len(string(br)):]
		}
		a, b = aRest, bRest
	}
	switch {
	case a == "" && b == "":
		return 0
	case a == "":
		return -1
	default:
		return 1
	}
}

// splitLeading splits off a maximal leading ASCII digit run.
func splitLeading(s string) (digits, rest string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i], s[i:]
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}
