package xactor

import "context"

type result struct {
	resp interface{}
	err  error
}

type mail struct {
	ctx      context.Context
	req      interface{}
	kind     mailKind
	resultCh chan *result
}

func newMail(ctx context.Context, kind mailKind, req interface{}) *mail {
	return &mail{ctx: ctx, kind: kind, req: req, resultCh: make(chan *result, 1)}
}
