// Package catalogseed loads a bundle catalog definition into a store.
package catalogseed

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/MarkoPoloResearchLab/airtime/pkg/ledger"
	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// ErrInvalidDefinition reports a malformed catalog definition.
var ErrInvalidDefinition = errors.New("invalid catalog definition")

// Definition is the YAML layout of a catalog.
type Definition struct {
	DefaultPeriods []string                 `yaml:"default_periods"`
	DefaultOffers  []OfferDefinition        `yaml:"default_offers"`
	MainCategories []MainCategoryDefinition `yaml:"main_categories"`
}

// MainCategoryDefinition lists the sub categories of one main category.
type MainCategoryDefinition struct {
	Name          string                  `yaml:"name"`
	SubCategories []SubCategoryDefinition `yaml:"sub_categories"`
}

// SubCategoryDefinition lists the periods of one sub category.
type SubCategoryDefinition struct {
	Name    string             `yaml:"name"`
	Periods []PeriodDefinition `yaml:"periods"`
}

// PeriodDefinition lists the offers of one period in option order.
type PeriodDefinition struct {
	Label  string            `yaml:"label"`
	Offers []OfferDefinition `yaml:"offers"`
}

// OfferDefinition is one quantity and price pair. Price is a decimal string.
type OfferDefinition struct {
	Quantity int64  `yaml:"quantity"`
	Price    string `yaml:"price"`
}

// Summary counts what a Load call touched.
type Summary struct {
	Groups         int
	OffersCreated  int
	OffersExisting int
}

// Default returns the embedded catalog.
func Default() (Definition, error) {
	return Parse(bytes.NewReader(defaultCatalog))
}

// ReadFile parses the catalog at path.
func ReadFile(path string) (Definition, error) {
	file, err := os.Open(path)
	if err != nil {
		return Definition{}, fmt.Errorf("open catalog file: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

// Parse decodes a YAML catalog and rejects unknown fields.
func Parse(reader io.Reader) (Definition, error) {
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)
	var definition Definition
	if err := decoder.Decode(&definition); err != nil {
		return Definition{}, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if len(definition.MainCategories) == 0 {
		return Definition{}, fmt.Errorf("%w: no main categories", ErrInvalidDefinition)
	}
	return definition, nil
}

// Load writes definition through admin in a single transaction. Rows that
// already exist are reused, so repeated loads leave the catalog unchanged.
func Load(ctx context.Context, admin ledger.CatalogAdmin, definition Definition) (Summary, error) {
	groups, err := definition.expand()
	if err != nil {
		return Summary{}, err
	}
	var summary Summary
	loadErr := admin.WithCatalogTx(ctx, func(ctx context.Context, admin ledger.CatalogAdmin) error {
		var err error
		summary = Summary{}
		mainIDs := make(map[string]int64)
		subIDs := make(map[[2]string]int64)
		for _, group := range groups {
			mainID, ok := mainIDs[group.main.String()]
			if !ok {
				if mainID, err = admin.EnsureMainCategory(ctx, group.main); err != nil {
					return err
				}
				mainIDs[group.main.String()] = mainID
			}
			subKey := [2]string{group.main.String(), group.sub.String()}
			subID, ok := subIDs[subKey]
			if !ok {
				if subID, err = admin.EnsureSubCategory(ctx, mainID, group.sub); err != nil {
					return err
				}
				subIDs[subKey] = subID
			}
			periodID, err := admin.EnsurePeriod(ctx, subID, group.period)
			if err != nil {
				return err
			}
			for _, offer := range group.offers {
				_, created, err := admin.EnsureOffer(ctx, periodID, offer.quantity, offer.price)
				if err != nil {
					return err
				}
				if created {
					summary.OffersCreated++
				} else {
					summary.OffersExisting++
				}
			}
			summary.Groups++
		}
		return nil
	})
	if loadErr != nil {
		return Summary{}, loadErr
	}
	return summary, nil
}

type seedOffer struct {
	quantity ledger.Quantity
	price    ledger.AmountCents
}

type seedGroup struct {
	main   ledger.CatalogName
	sub    ledger.CatalogName
	period ledger.CatalogName
	offers []seedOffer
}

// expand applies defaults and validates every name, quantity, and price.
func (definition Definition) expand() ([]seedGroup, error) {
	defaultPeriods := make([]PeriodDefinition, 0, len(definition.DefaultPeriods))
	for _, label := range definition.DefaultPeriods {
		defaultPeriods = append(defaultPeriods, PeriodDefinition{Label: label})
	}
	var groups []seedGroup
	for _, mainDefinition := range definition.MainCategories {
		mainName, err := ledger.NewCatalogName(mainDefinition.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: main category: %w", ErrInvalidDefinition, err)
		}
		for _, subDefinition := range mainDefinition.SubCategories {
			subName, err := ledger.NewCatalogName(subDefinition.Name)
			if err != nil {
				return nil, fmt.Errorf("%w: %s sub category: %w", ErrInvalidDefinition, mainName, err)
			}
			periods := subDefinition.Periods
			if len(periods) == 0 {
				periods = defaultPeriods
			}
			if len(periods) == 0 {
				return nil, fmt.Errorf("%w: %s/%s has no periods", ErrInvalidDefinition, mainName, subName)
			}
			for _, periodDefinition := range periods {
				periodName, err := ledger.NewCatalogName(periodDefinition.Label)
				if err != nil {
					return nil, fmt.Errorf("%w: %s/%s period: %w", ErrInvalidDefinition, mainName, subName, err)
				}
				offerDefinitions := periodDefinition.Offers
				if len(offerDefinitions) == 0 {
					offerDefinitions = definition.DefaultOffers
				}
				if len(offerDefinitions) == 0 {
					return nil, fmt.Errorf("%w: %s/%s/%s has no offers", ErrInvalidDefinition, mainName, subName, periodName)
				}
				group := seedGroup{main: mainName, sub: subName, period: periodName}
				for _, offerDefinition := range offerDefinitions {
					offer, err := offerDefinition.parse()
					if err != nil {
						return nil, fmt.Errorf("%w: %s/%s/%s: %w", ErrInvalidDefinition, mainName, subName, periodName, err)
					}
					group.offers = append(group.offers, offer)
				}
				groups = append(groups, group)
			}
		}
	}
	return groups, nil
}

func (offerDefinition OfferDefinition) parse() (seedOffer, error) {
	quantity, err := ledger.NewQuantity(offerDefinition.Quantity)
	if err != nil {
		return seedOffer{}, err
	}
	price, err := ledger.ParseAmountString(offerDefinition.Price)
	if err != nil {
		return seedOffer{}, err
	}
	return seedOffer{quantity: quantity, price: price}, nil
}
