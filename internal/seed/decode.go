package seed

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/marketplace/internal/domain/cart"
	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/domain/user"
)

// Parse decodes a seed file. Carts are active unless marked otherwise.
func Parse(data []byte) (*Dataset, error) {
	var ds Dataset
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "users":
			return d.Arr(func(d *jx.Decoder) error {
				u, err := decodeUser(d)
				ds.Users = append(ds.Users, u)
				return err
			})
		case "products":
			return d.Arr(func(d *jx.Decoder) error {
				p, err := decodeProduct(d)
				ds.Products = append(ds.Products, p)
				return err
			})
		case "carts":
			return d.Arr(func(d *jx.Decoder) error {
				c, err := decodeCart(d)
				ds.Carts = append(ds.Carts, c)
				return err
			})
		case "coupons":
			return d.Arr(func(d *jx.Decoder) error {
				c, err := decodeCoupon(d)
				ds.Coupons = append(ds.Coupons, c)
				return err
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "parse seed")
	}
	return &ds, nil
}

func decodeUser(d *jx.Decoder) (u user.User, err error) {
	err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			u.ID, err = d.Str()
		case "username":
			u.Username, err = d.Str()
		case "email":
			u.Email, err = d.Str()
		case "role":
			var role string
			role, err = d.Str()
			u.Role = user.Role(role)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return u, errors.Wrap(err, "user")
	}
	if u.Role != user.RoleBuyer && u.Role != user.RoleSeller {
		return u, errors.Errorf("user %q: unknown role %q", u.ID, u.Role)
	}
	return u, nil
}

func decodeProduct(d *jx.Decoder) (p product.Product, err error) {
	err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			p.ID, err = d.Str()
		case "sellerId":
			p.SellerID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "price":
			p.Price, err = coupon.DecodeDecimal(d)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return p, errors.Wrap(err, "product")
	}
	return p, nil
}

func decodeCart(d *jx.Decoder) (c cart.Cart, err error) {
	c.Active = true
	err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "id":
			id, err := d.Str()
			c.ID = id
			return err
		case "buyerId":
			id, err := d.Str()
			c.BuyerID = id
			return err
		case "active":
			active, err := d.Bool()
			c.Active = active
			return err
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				it, err := decodeItem(d)
				c.Items = append(c.Items, it)
				return err
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return c, errors.Wrap(err, "cart")
	}
	for i := range c.Items {
		c.Items[i].CartID = c.ID
	}
	return c, nil
}

func decodeItem(d *jx.Decoder) (it cart.Item, err error) {
	err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			it.ID, err = d.Str()
		case "productId":
			it.ProductID, err = d.Str()
		case "quantity":
			it.Quantity, err = d.Int()
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return it, errors.Wrap(err, "cart item")
	}
	if it.Quantity <= 0 {
		return it, errors.Errorf("cart item %q: quantity must be positive", it.ID)
	}
	return it, nil
}

func decodeCoupon(d *jx.Decoder) (c Coupon, err error) {
	err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "sellerId":
			c.SellerID, err = d.Str()
		case "code":
			c.Code, err = d.Str()
		case "discountPercentage":
			c.DiscountPercentage, err = coupon.DecodeDecimal(d)
		case "validDays":
			c.ValidDays, err = d.Int()
		case "maxRedemptions":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var n int
			if n, err = d.Int(); err == nil {
				c.MaxRedemptions = &n
			}
		case "productIds":
			err = d.Arr(func(d *jx.Decoder) error {
				id, err := d.Str()
				c.ProductIDs = append(c.ProductIDs, id)
				return err
			})
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return c, errors.Wrap(err, "coupon")
	}
	return c, nil
}
