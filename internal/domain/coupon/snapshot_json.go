package coupon

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// DateLayout is the wire format of StartDate and EndDate.
const DateLayout = time.DateOnly

// Encode writes s as a JSON object. The discount percentage is written as a
// string so no precision is lost.
func (s *Snapshot) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(s.ID)
	e.FieldStart("code")
	e.Str(s.Code)
	e.FieldStart("discountPercentage")
	e.Str(s.DiscountPercentage.String())
	e.FieldStart("startDate")
	e.Str(s.StartDate.Format(DateLayout))
	e.FieldStart("endDate")
	e.Str(s.EndDate.Format(DateLayout))
	e.FieldStart("maxRedemptions")
	if s.MaxRedemptions != nil {
		e.Int(*s.MaxRedemptions)
	} else {
		e.Null()
	}
	e.FieldStart("redeemCount")
	e.Int(s.RedeemCount)
	e.FieldStart("sellerId")
	e.Str(s.SellerID)
	e.FieldStart("productIds")
	e.ArrStart()
	for _, id := range s.ProductIDs {
		e.Str(id)
	}
	e.ArrEnd()
	e.ObjEnd()
}

// Decode reads a JSON object written by Encode. Unknown fields are skipped.
func (s *Snapshot) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			s.ID, err = d.Str()
		case "code":
			s.Code, err = d.Str()
		case "discountPercentage":
			s.DiscountPercentage, err = DecodeDecimal(d)
		case "startDate":
			s.StartDate, err = decodeDate(d)
		case "endDate":
			s.EndDate, err = decodeDate(d)
		case "maxRedemptions":
			if d.Next() == jx.Null {
				s.MaxRedemptions = nil
				return d.Null()
			}
			var n int
			if n, err = d.Int(); err == nil {
				s.MaxRedemptions = &n
			}
		case "redeemCount":
			s.RedeemCount, err = d.Int()
		case "sellerId":
			s.SellerID, err = d.Str()
		case "productIds":
			s.ProductIDs = s.ProductIDs[:0]
			err = d.Arr(func(d *jx.Decoder) error {
				id, err := d.Str()
				if err != nil {
					return err
				}
				s.ProductIDs = append(s.ProductIDs, id)
				return nil
			})
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "decode %s", key)
		}
		return nil
	})
}

// DecodeDecimal reads a decimal written either as a JSON string or number.
func DecodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = n.String()
	default:
		return decimal.Decimal{}, errors.New("expected decimal string or number")
	}
	return decimal.NewFromString(raw)
}

func decodeDate(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return ParseDate(s)
}

// ParseDate parses a calendar day in DateLayout as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse date %q", s)
	}
	return t, nil
}
