package binance

// DepthSnapshot 对应币安现货 REST /api/v3/depth 返回的深度快照。
// The partial book depth stream (<symbol>@depth<N>) pushes the same shape,
// so both the poller and the stream client decode into it.
type DepthSnapshot struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// apiError is the body Binance sends with a non-200 status.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}
