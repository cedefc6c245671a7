package transport

import (
	"testing"

	"github.com/pithecene-io/workernode/types"
)

func TestHandleControlBodyRoutesCancel(t *testing.T) {
	d := NewHTTPDriver(nil)
	var got types.ControlMessage
	d.OnTaskCancel(func(msg types.ControlMessage) { got = msg })
	d.OnConfigUpdate(func(types.ConfigUpdate) { t.Fatal("cancel must not route to onConfigUpdate") })
	d.OnRuntimeManage(func(types.RuntimeManageRequest) { t.Fatal("cancel must not route to onRuntimeManage") })

	d.handleControlBody([]byte(`{"ControlType":"cancel","TaskID":"t1","Reason":"user requested"}`))

	if got.TaskID != "t1" || got.Reason != "user requested" {
		t.Fatalf("unexpected cancel message: %+v", got)
	}
}

func TestHandleControlBodyRoutesConfigUpdate(t *testing.T) {
	d := NewHTTPDriver(nil)
	d.OnTaskCancel(func(types.ControlMessage) { t.Fatal("config_update must not route to onCancel") })
	var got types.ConfigUpdate
	d.OnConfigUpdate(func(cfg types.ConfigUpdate) { got = cfg })

	d.handleControlBody([]byte(`{"ControlType":"config_update","Payload":{"MaxConcurrentTasks":8}}`))

	if got.MaxConcurrentTasks == nil || *got.MaxConcurrentTasks != 8 {
		t.Fatalf("expected MaxConcurrentTasks=8, got %+v", got)
	}
}

func TestHandleControlBodyRoutesRuntimeManage(t *testing.T) {
	d := NewHTTPDriver(nil)
	d.OnTaskCancel(func(types.ControlMessage) { t.Fatal("runtime_manage must not route to onCancel") })
	var got types.RuntimeManageRequest
	d.OnRuntimeManage(func(req types.RuntimeManageRequest) { got = req })

	d.handleControlBody([]byte(`{"ControlType":"runtime_manage","Payload":{"Action":"list_envs","RequestID":"r1"}}`))

	if got.Action != types.ActionListEnvs || got.RequestID != "r1" {
		t.Fatalf("unexpected runtime manage request: %+v", got)
	}
}

func TestHandleControlBodyIgnoresMalformedJSON(t *testing.T) {
	d := NewHTTPDriver(nil)
	d.OnTaskCancel(func(types.ControlMessage) { t.Fatal("malformed body must not dispatch") })
	d.handleControlBody([]byte(`{not json`))
}
