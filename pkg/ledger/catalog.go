package ledger

import (
	"cmp"
	"context"
	"fmt"
	"slices"
)

// CatalogFilter restricts ListCatalogOffers to one named group. The zero value matches every offer.
type CatalogFilter struct {
	MainCategory string
	SubCategory  string
	Period       string
}

// IsZero reports whether the filter matches the whole catalog.
func (filter CatalogFilter) IsZero() bool {
	return filter == CatalogFilter{}
}

// CatalogOffer is one offer joined with its period, sub category, and main category.
type CatalogOffer struct {
	MainCategoryID int64
	MainCategory   string
	SubCategoryID  int64
	SubCategory    string
	PeriodID       int64
	Period         string
	OfferID        OfferID
	Quantity       Quantity
	Price          AmountCents
}

// GroupKey identifies a catalog group structurally.
type GroupKey struct {
	MainCategoryID int64
	SubCategoryID  int64
	PeriodID       int64
}

func (key GroupKey) compare(other GroupKey) int {
	if order := cmp.Compare(key.MainCategoryID, other.MainCategoryID); order != 0 {
		return order
	}
	if order := cmp.Compare(key.SubCategoryID, other.SubCategoryID); order != 0 {
		return order
	}
	return cmp.Compare(key.PeriodID, other.PeriodID)
}

// CatalogOption is a numbered offer inside a group.
type CatalogOption struct {
	OptionNumber int
	OfferID      OfferID
	Quantity     Quantity
	Price        AmountCents
}

// CatalogGroup holds the ordered options of one (main, sub, period) triple.
type CatalogGroup struct {
	Key          GroupKey
	MainCategory string
	SubCategory  string
	Period       string
	Options      []CatalogOption
}

// Label renders the group as "main > sub > period".
func (group CatalogGroup) Label() string {
	return group.MainCategory + labelDelimiter + group.SubCategory + labelDelimiter + group.Period
}

// ResolvedOffer is the offer selected by an option number.
type ResolvedOffer struct {
	Group        GroupKey
	MainCategory string
	SubCategory  string
	Period       string
	Option       CatalogOption
}

// Catalog aggregates the catalog store into numbered groups.
type Catalog struct {
	store CatalogStore
}

// NewCatalog wires a Catalog.
func NewCatalog(store CatalogStore) (*Catalog, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: catalog store dependency is nil", ErrInvalidServiceConfig)
	}
	return &Catalog{store: store}, nil
}

// ListCatalog returns every group in (main, sub, period) id order with options numbered from 1.
func (catalog *Catalog) ListCatalog(ctx context.Context) ([]CatalogGroup, error) {
	offers, err := catalog.store.ListCatalogOffers(ctx, CatalogFilter{})
	if err != nil {
		return nil, storeFailure(err)
	}
	return groupOffers(offers), nil
}

// ResolveOffer returns the offer ranked optionNumber within the named group.
func (catalog *Catalog) ResolveOffer(ctx context.Context, mainCategory CatalogName, subCategory CatalogName, period CatalogName, optionNumber int) (ResolvedOffer, error) {
	offers, err := catalog.store.ListCatalogOffers(ctx, CatalogFilter{
		MainCategory: mainCategory.String(),
		SubCategory:  subCategory.String(),
		Period:       period.String(),
	})
	if err != nil {
		return ResolvedOffer{}, storeFailure(err)
	}
	groups := groupOffers(offers)
	if len(groups) == 0 {
		return ResolvedOffer{}, fmt.Errorf("%w: %s%s%s%s%s", ErrCatalogNotFound, mainCategory, labelDelimiter, subCategory, labelDelimiter, period)
	}
	// Names are unique per parent in our stores; the first group wins otherwise.
	group := groups[0]
	if optionNumber < 1 || optionNumber > len(group.Options) {
		return ResolvedOffer{}, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidOption, optionNumber, len(group.Options))
	}
	return ResolvedOffer{
		Group:        group.Key,
		MainCategory: group.MainCategory,
		SubCategory:  group.SubCategory,
		Period:       group.Period,
		Option:       group.Options[optionNumber-1],
	}, nil
}

func groupOffers(offers []CatalogOffer) []CatalogGroup {
	indexByKey := make(map[GroupKey]int)
	groups := make([]CatalogGroup, 0)
	for _, offer := range offers {
		key := GroupKey{
			MainCategoryID: offer.MainCategoryID,
			SubCategoryID:  offer.SubCategoryID,
			PeriodID:       offer.PeriodID,
		}
		index, exists := indexByKey[key]
		if !exists {
			index = len(groups)
			indexByKey[key] = index
			groups = append(groups, CatalogGroup{
				Key:          key,
				MainCategory: offer.MainCategory,
				SubCategory:  offer.SubCategory,
				Period:       offer.Period,
			})
		}
		groups[index].Options = append(groups[index].Options, CatalogOption{
			OfferID:  offer.OfferID,
			Quantity: offer.Quantity,
			Price:    offer.Price,
		})
	}
	slices.SortFunc(groups, func(left, right CatalogGroup) int {
		return left.Key.compare(right.Key)
	})
	for groupIndex := range groups {
		options := groups[groupIndex].Options
		slices.SortFunc(options, func(left, right CatalogOption) int {
			return cmp.Compare(left.OfferID, right.OfferID)
		})
		for optionIndex := range options {
			options[optionIndex].OptionNumber = optionIndex + 1
		}
	}
	return groups
}
