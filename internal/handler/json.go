package handler

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/marketplace/internal/domain/coupon"
)

// requestError reports a malformed request body or parameter.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		return nil, badRequest("read body: %v", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, badRequest("request body is empty")
	}
	return body, nil
}

// decodeInput reads a coupon definition. Missing optional fields keep their
// zero values; Input.Validate reports missing required ones.
func decodeInput(body []byte) (coupon.Input, error) {
	var in coupon.Input
	err := jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			in.Code, err = d.Str()
		case "discountPercentage":
			in.DiscountPercentage, err = coupon.DecodeDecimal(d)
		case "startDate":
			in.StartDate, err = decodeDate(d)
		case "endDate":
			in.EndDate, err = decodeDate(d)
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
				if err != nil {
					return err
				}
				in.ProductIDs = append(in.ProductIDs, id)
				return nil
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
		return coupon.Input{}, badRequest("decode coupon: %v", err)
	}
	return in, nil
}

func decodeDate(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return coupon.ParseDate(s)
}

type applyRequest struct {
	ProductID string
	BuyerID   string
}

func decodeApply(body []byte) (applyRequest, error) {
	var req applyRequest
	err := jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "productId":
			req.ProductID, err = d.Str()
		case "buyerId":
			req.BuyerID, err = d.Str()
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return req, badRequest("decode apply request: %v", err)
	}
	if req.ProductID == "" || req.BuyerID == "" {
		return req, badRequest("productId and buyerId are required")
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeSnapshot(w http.ResponseWriter, status int, s *coupon.Snapshot) {
	writeJSON(w, status, s.Encode)
}

func writeSnapshots(w http.ResponseWriter, list []coupon.Snapshot) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range list {
			list[i].Encode(e)
		}
		e.ArrEnd()
	})
}
