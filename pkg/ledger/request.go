package ledger

// PurchaseRequest is a validated bundle purchase selection.
type PurchaseRequest struct {
	PhoneNumber  PhoneNumber
	MainCategory CatalogName
	SubCategory  CatalogName
	Period       CatalogName
	OptionNumber int
}

// NewPurchaseRequest validates the five purchase inputs. The option number is range-checked
// later against the resolved group.
func NewPurchaseRequest(phoneNumber string, mainCategory string, subCategory string, period string, optionNumber int) (PurchaseRequest, error) {
	phone, err := NewPhoneNumber(phoneNumber)
	if err != nil {
		return PurchaseRequest{}, err
	}
	mainName, err := NewCatalogName(mainCategory)
	if err != nil {
		return PurchaseRequest{}, err
	}
	subName, err := NewCatalogName(subCategory)
	if err != nil {
		return PurchaseRequest{}, err
	}
	periodName, err := NewCatalogName(period)
	if err != nil {
		return PurchaseRequest{}, err
	}
	return PurchaseRequest{
		PhoneNumber:  phone,
		MainCategory: mainName,
		SubCategory:  subName,
		Period:       periodName,
		OptionNumber: optionNumber,
	}, nil
}

func (request PurchaseRequest) validate() error {
	if request.PhoneNumber.IsZero() {
		return ErrInvalidPhoneNumber
	}
	if request.MainCategory.String() == "" || request.SubCategory.String() == "" || request.Period.String() == "" {
		return ErrInvalidCatalogName
	}
	return nil
}
