package protocol

import (
	"context"
	"testing"

	"github.com/cloudkucooland/gokasa/kerrors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestSmartSingleMethodRoundTrip(t *testing.T) {
	ft := &fakeTransport{responses: []fakeResponse{
		{body: []byte(`{"error_code":0,"result":{"device_id":"abc"}}`)},
	}}
	p, err := NewSmart(ft, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)

	res, err := p.Query(context.Background(), map[string]interface{}{"get_device_info": nil})
	require.NoError(t, err)
	require.Equal(t, "abc", res["get_device_info"].(map[string]interface{})["device_id"])
}

func TestSmartSingleMethodErrorRaises(t *testing.T) {
	ft := &fakeTransport{responses: []fakeResponse{
		{body: []byte(`{"error_code":-1008}`)},
	}}
	p, err := NewSmart(ft, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)

	_, err = p.Query(context.Background(), map[string]interface{}{"get_device_info": nil})
	require.Error(t, err)
}

func TestSmartBatchesMultipleMethods(t *testing.T) {
	ft := &fakeTransport{responses: []fakeResponse{
		{body: []byte(`{"error_code":0,"result":{"responses":[
			{"method":"get_device_info","error_code":0,"result":{"device_id":"abc"}},
			{"method":"get_wireless_scan_info","error_code":0,"result":{"ap_list":[]}}
		]}}`)},
	}}
	p, err := NewSmart(ft, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)

	res, err := p.Query(context.Background(), map[string]interface{}{
		"get_device_info":         nil,
		"get_wireless_scan_info": nil,
	})
	require.NoError(t, err)
	require.Equal(t, "abc", res["get_device_info"].(map[string]interface{})["device_id"])
	require.Equal(t, 1, ft.callCount())
}

func TestSmartDenyListMethodsAlwaysSingle(t *testing.T) {
	ft := &fakeTransport{responses: []fakeResponse{
		{body: []byte(`{"error_code":0,"result":{"ap_list":[]}}`)},
		{body: []byte(`{"error_code":0,"result":{"device_id":"abc"}}`)},
	}}
	p, err := NewSmart(ft, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)

	_, err = p.Query(context.Background(), map[string]interface{}{
		"scanApList":      nil,
		"get_device_info": nil,
	})
	require.NoError(t, err)
	require.Equal(t, 2, ft.callCount())
}

func TestSmartMultiMethodErrorAttributedPerItem(t *testing.T) {
	ft := &fakeTransport{responses: []fakeResponse{
		{body: []byte(`{"error_code":0,"result":{"responses":[
			{"method":"get_device_info","error_code":0,"result":{"device_id":"abc"}},
			{"method":"unknown_method","error_code":-40101}
		]}}`)},
	}}
	p, err := NewSmart(ft, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)

	res, err := p.Query(context.Background(), map[string]interface{}{
		"get_device_info": nil,
		"unknown_method":  nil,
	})
	require.NoError(t, err)
	require.Equal(t, "abc", res["get_device_info"].(map[string]interface{})["device_id"])
	require.Equal(t, -40101, res["unknown_method"].(map[string]interface{})["error_code"])
}

func TestSmartBatchSizeDemotedStickyOnDecodeFailure(t *testing.T) {
	ft := &fakeTransport{responses: []fakeResponse{
		{body: []byte(`{"error_code":-1003}`)},
		{body: []byte(`{"error_code":0,"result":{"device_id":"abc"}}`)},
		{body: []byte(`{"error_code":0,"result":{"ap_list":[]}}`)},
	}}
	p, err := NewSmart(ft, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	require.Equal(t, 5, p.batchSize)

	res, err := p.Query(context.Background(), map[string]interface{}{
		"get_device_info":         nil,
		"get_wireless_scan_info": nil,
	})
	require.NoError(t, err)
	require.Equal(t, 1, p.batchSize)
	require.Equal(t, "abc", res["get_device_info"].(map[string]interface{})["device_id"])

	// demotion stays sticky for the next call too.
	ft.responses = append(ft.responses, fakeResponse{body: []byte(`{"error_code":0,"result":{"device_id":"abc2"}}`)})
	_, err = p.Query(context.Background(), map[string]interface{}{"get_device_info": nil})
	require.NoError(t, err)
	require.Equal(t, 1, p.batchSize)
}

func TestSmartPaginationAccumulatesUntilSum(t *testing.T) {
	ft := &fakeTransport{responses: []fakeResponse{
		{body: []byte(`{"error_code":0,"result":{"start_index":0,"sum":3,"device_list":[{"id":1},{"id":2}]}}`)},
		{body: []byte(`{"error_code":0,"result":{"start_index":2,"sum":3,"device_list":[{"id":3}]}}`)},
	}}
	p, err := NewSmart(ft, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)

	res, err := p.Query(context.Background(), map[string]interface{}{"get_child_device_list": nil})
	require.NoError(t, err)
	list := res["get_child_device_list"].(map[string]interface{})["device_list"].([]interface{})
	require.Len(t, list, 3)
	require.Equal(t, 2, ft.callCount())
}

func TestSmartPaginationStopsOnEmptyPage(t *testing.T) {
	ft := &fakeTransport{responses: []fakeResponse{
		{body: []byte(`{"error_code":0,"result":{"start_index":0,"sum":99,"device_list":[{"id":1}]}}`)},
		{body: []byte(`{"error_code":0,"result":{"start_index":1,"sum":99,"device_list":[]}}`)},
	}}
	p, err := NewSmart(ft, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)

	res, err := p.Query(context.Background(), map[string]interface{}{"get_child_device_list": nil})
	require.NoError(t, err)
	list := res["get_child_device_list"].(map[string]interface{})["device_list"].([]interface{})
	require.Len(t, list, 1)
}

func TestSmartAuthErrorIsNotRetried(t *testing.T) {
	ft := &fakeTransport{responses: []fakeResponse{
		{err: kerrors.Auth(nil)},
		{body: []byte(`{"error_code":0,"result":{}}`)},
	}}
	p, err := NewSmart(ft, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)

	_, err = p.Query(context.Background(), map[string]interface{}{"get_device_info": nil})
	require.Error(t, err)
	require.Equal(t, kerrors.KindAuth, kerrors.KindOf(err))
	require.Equal(t, 1, ft.callCount())
}
