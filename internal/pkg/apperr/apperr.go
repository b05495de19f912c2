// Package apperr 定义审计服务对外暴露的错误分类，transport 层据此映射 HTTP 状态码。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

// Error 携带分类、面向调用方的消息以及可选的底层错误。
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil && e.Msg != "" {
		return e.Msg + ": " + e.Err.Error()
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// Upstream 包装外部数据源错误，Msg 会直接返回给调用方，因此不要放入内部细节。
func Upstream(err error, msg string) error {
	return &Error{Kind: KindUpstream, Msg: msg, Err: err}
}

// KindOf 沿错误链查找分类，未分类的错误视为 internal。
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage 返回可以安全回传给调用方的文本：
// validation/not_found/conflict 原样返回，upstream 只返回 Msg，其余统一为 internal error。
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	switch e.Kind {
	case KindValidation, KindNotFound, KindConflict:
		return e.Error()
	case KindUpstream:
		if e.Msg != "" {
			return e.Msg
		}
		return "upstream data source unavailable"
	default:
		return "internal error"
	}
}
