package importer

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/marketplace/internal/domain/coupon"
)

// Definition is one line of an import file: a coupon definition and the
// seller issuing it.
type Definition struct {
	SellerID string
	Input    coupon.Input
}

// ParseLine decodes a JSON object line such as
//
//	{"sellerId":"s1","code":"SAVE10","discountPercentage":"10",
//	 "startDate":"2025-06-01","endDate":"2025-06-30","maxRedemptions":100,
//	 "productIds":["p1"]}
func ParseLine(line []byte) (Definition, error) {
	var def Definition
	in := &def.Input
	err := jx.DecodeBytes(line).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "sellerId":
			def.SellerID, err = d.Str()
		case "code":
			in.Code, err = d.Str()
		case "discountPercentage":
			in.DiscountPercentage, err = coupon.DecodeDecimal(d)
		case "startDate":
			var s string
			if s, err = d.Str(); err == nil {
				in.StartDate, err = coupon.ParseDate(s)
			}
		case "endDate":
			var s string
			if s, err = d.Str(); err == nil {
				in.EndDate, err = coupon.ParseDate(s)
			}
		case "maxRedemptions":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var n int
			if n, err = d.Int(); err == nil {
				in.MaxRedemptions = &n
			}
		case "productIds":
			err = d.Arr(func(d *jx.Decoder) error {
				id, err := d.Str()
				in.ProductIDs = append(in.ProductIDs, id)
				return err
			})
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %s", key)
		}
		return nil
	})
	if err != nil {
		return Definition{}, err
	}
	if def.SellerID == "" {
		return Definition{}, errors.New("sellerId is required")
	}
	if err := in.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// codeOf extracts only the code of a line, skipping everything else. Used by
// the scanning passes, which do not need the full definition.
func codeOf(line []byte) (string, bool) {
	var code string
	err := jx.DecodeBytes(line).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "code" {
			return d.Skip()
		}
		var err error
		code, err = d.Str()
		return err
	})
	return code, err == nil && code != ""
}
