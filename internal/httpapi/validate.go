package httpapi

import (
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"schooltrack/internal/model"
)

var registerOnce sync.Once

// registerValidators adds the domain tags to gin's validator and reports
// fields by their json name.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})
		_ = v.RegisterValidation("scanmethod", func(fl validator.FieldLevel) bool {
			return model.ScanMethod(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("assignkind", func(fl validator.FieldLevel) bool {
			return model.AssignmentKind(fl.Field().String()).Valid()
		})
	})
}
