package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-ledger/internal/common"
)

// maxBodyBytes — предел тела запроса.
const maxBodyBytes = 1 << 20

// okResponse — успешный ответ: {"success":true,"data":...}.
type okResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// errorResponse — ответ об ошибке: {"success":false,"error":"..."}.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

var validate = newValidator()

// newValidator настраивает validator: имена полей берутся из json-тегов,
// decimal.Decimal проверяется как число (gt=0, gte=0 и т.д.).
// Точная проверка сумм (знаки после точки, предел) остаётся за леджером.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// decode читает JSON-тело в dst и проверяет его validate-тегами.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: некорректный JSON: %v", common.ErrInvalidInput, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", common.ErrInvalidInput, describeValidation(err))
	}
	return nil
}

// describeValidation превращает ошибки validator в короткий текст "поле: правило".
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fe.Field()+": "+rule)
	}
	return strings.Join(parts, ", ")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("Ошибка записи ответа")
	}
}

func writeOK(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, okResponse{Success: true, Data: data})
}

// writeError отвечает статусом, соответствующим категории ошибки.
// Текст внутренних ошибок наружу не отдаётся.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.WithError(err).WithField("path", r.URL.Path).Error("Внутренняя ошибка")
		msg = "внутренняя ошибка"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor сопоставляет ошибку HTTP-статусу.
func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, common.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrTransientStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
