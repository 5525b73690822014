package views

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/radiusdt/adperf/internal/filter"
	"github.com/radiusdt/adperf/internal/kpi"
	"github.com/radiusdt/adperf/internal/models"
)

// BannerGallery lists banners that carry an image, ordered by ad number,
// then conversions descending, then CPA ascending, and capped.
func (a *Assembler) BannerGallery(ctx context.Context, req Request) (*Result[BannerRow], error) {
	rs, err := a.loader.Banners(ctx, req.Version)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	banners := filter.Apply(rs.Rows, rs.Columns, req.Filter)

	res := &Result[BannerRow]{View: BannerGallery, Summary: Summary{Filter: req.Filter, SnapshotVersion: req.Version}}
	months := make([]time.Time, 0, len(banners))
	for i := range banners {
		b := &banners[i]
		if t, ok := models.ParseMonth(b.DeliveryMonth); ok {
			months = append(months, t)
		}
		if strings.TrimSpace(b.ImageURL) == "" {
			continue
		}
		res.Rows = append(res.Rows, BannerRow{
			CampaignName:    b.CampaignName,
			AdsetName:       b.AdsetName,
			AdName:          b.AdName,
			AdNumber:        b.AdNumber,
			ImageURL:        b.ImageURL,
			CanvaURL:        b.CanvaURL,
			LandingURL:      b.LandingURL,
			DescriptionText: b.DescriptionText,
			Cost:            b.Cost,
			Impressions:     b.Impressions,
			Clicks:          b.Clicks,
			ConvBanner:      b.ConvBanner,
			Metrics:         kpi.Compute(kpi.Totals{Cost: b.Cost, Impressions: b.Impressions, Clicks: b.Clicks, Conversions: b.ConvBanner}),
		})
	}
	res.Summary.MonthRange = a.monthRange(months)

	slices.SortStableFunc(res.Rows, compareBanners)
	if n := len(res.Rows); n > a.cfg.MaxBannerGallery {
		res.Rows = res.Rows[:a.cfg.MaxBannerGallery]
		res.Summary.warn("gallery shows %d of %d banners", a.cfg.MaxBannerGallery, n)
	}
	finish(res, nil)
	return res, nil
}

func compareBanners(x, y BannerRow) int {
	switch {
	case x.AdNumber != nil && y.AdNumber != nil:
		if d := cmp.Compare(*x.AdNumber, *y.AdNumber); d != 0 {
			return d
		}
	case x.AdNumber != nil:
		return -1
	case y.AdNumber != nil:
		return 1
	}
	if d := cmpNum(x.ConvBanner, y.ConvBanner, true); d != 0 {
		return d
	}
	if d := cmpNum(x.Metrics.CPA, y.Metrics.CPA, false); d != 0 {
		return d
	}
	for _, p := range [][2]string{{x.CampaignName, y.CampaignName}, {x.AdName, y.AdName}, {x.ImageURL, y.ImageURL}} {
		if d := strings.Compare(p[0], p[1]); d != 0 {
			return d
		}
	}
	return 0
}
