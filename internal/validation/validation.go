// Package validation はリクエスト入力の検証を提供する。
// 構造体のvalidateタグで制約を宣言し、最初の違反を*model.APIErrorとして返す。
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/libman/internal/model"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// エラーメッセージにはJSONのフィールド名を使う
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Struct はvalidateタグに従って構造体を検証する。
// 違反がある場合は最初の違反をINVALID_ARGUMENTとして返す。
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("入力検証に失敗しました: %w", err)
	}
	fe := verrs[0]
	return model.NewInvalidArgumentError(fieldPath(fe), reason(fe))
}

// fieldPath は先頭の構造体名を除いたフィールドのパスを返す（例: name.firstName）。
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func reason(fe validator.FieldError) string {
	isString := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "required":
		return "必須項目です"
	case "min":
		if isString {
			return fmt.Sprintf("%s文字以上で入力してください", fe.Param())
		}
		return fmt.Sprintf("%s以上を指定してください", fe.Param())
	case "max":
		if isString {
			return fmt.Sprintf("%s文字以内で入力してください", fe.Param())
		}
		return fmt.Sprintf("%s以下を指定してください", fe.Param())
	case "len":
		return fmt.Sprintf("%s文字で入力してください", fe.Param())
	case "email":
		return "メールアドレスの形式が正しくありません"
	case "uuid":
		return "IDの形式が正しくありません"
	default:
		return "値が正しくありません"
	}
}
