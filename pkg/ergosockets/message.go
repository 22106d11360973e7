package ergosockets

// Call declares a request/response pair. Req and Res fix the payload shapes at
// compile time; Name is the logical name used to build the "_req"/"_res" tags.
type Call[Req, Res any] struct {
	Name string
}

// RequestTag returns the outbound tag of c.
func (c Call[Req, Res]) RequestTag() string { return RequestTag(c.Name) }

// ResponseTag returns the inbound tag of c.
func (c Call[Req, Res]) ResponseTag() string { return ResponseTag(c.Name) }

// Push declares an unsolicited message whose payload has type T.
type Push[T any] struct {
	Name string
}
