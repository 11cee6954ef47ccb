package bridge

import "fmt"

// Kind — категория отказа моста. Оператору нужна конкретика:
// «сервис не найден» и «демон недоступен» лечатся по-разному,
// схлопывать их в одну ошибку нельзя.
type Kind string

const (
	KindNotFound     Kind = "target_not_found"
	KindAccessDenied Kind = "access_denied"
	KindBadRequest   Kind = "malformed_request"
	KindTransport    Kind = "transport_unavailable"
)

type BridgeError struct {
	Kind    Kind
	Service string
	Cause   error
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("bridge %s: %s (cause: %v)", e.Service, e.Kind, e.Cause)
}

func (e *BridgeError) Unwrap() error {
	return e.Cause
}
