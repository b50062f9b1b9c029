package mpesa

import (
	"encoding/json"
	"testing"
)

const successCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 500.0},
          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
          {"Name": "TransactionDate", "Value": 20191219102115},
          {"Name": "PhoneNumber", "Value": 254708374149}
        ]
      }
    }
  }
}`

const failureCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 1032,
      "ResultDesc": "Request cancelled by user"
    }
  }
}`

func TestCallback_Success(t *testing.T) {
	var envelope CallbackEnvelope
	if err := json.Unmarshal([]byte(successCallback), &envelope); err != nil {
		t.Fatalf("decode callback: %v", err)
	}

	cb := envelope.Body.STKCallback
	if !cb.Succeeded() {
		t.Fatal("expected success")
	}
	if cb.CheckoutRequestID != "ws_CO_191220191020363925" {
		t.Fatalf("unexpected checkout request id %q", cb.CheckoutRequestID)
	}

	amount, err := cb.Amount()
	if err != nil {
		t.Fatalf("amount: %v", err)
	}
	if amount != 500 {
		t.Fatalf("expected amount 500, got %d", amount)
	}
	if got := cb.Receipt(); got != "NLJ7RT61SV" {
		t.Fatalf("unexpected receipt %q", got)
	}
}

func TestCallback_Failure(t *testing.T) {
	var envelope CallbackEnvelope
	if err := json.Unmarshal([]byte(failureCallback), &envelope); err != nil {
		t.Fatalf("decode callback: %v", err)
	}

	cb := envelope.Body.STKCallback
	if cb.Succeeded() {
		t.Fatal("expected failure")
	}
	if cb.ResultDesc != "Request cancelled by user" {
		t.Fatalf("unexpected result desc %q", cb.ResultDesc)
	}
	if _, err := cb.Amount(); err == nil {
		t.Fatal("expected amount error without metadata")
	}
}

func TestValidPhone(t *testing.T) {
	valid := []string{"254708374149", "14155552671", "4915112345678"}
	for _, phone := range valid {
		if !ValidPhone(phone) {
			t.Fatalf("expected %q valid", phone)
		}
	}

	invalid := []string{"", "0712345678", "+254708374149", "abc", "25470837414912345"}
	for _, phone := range invalid {
		if ValidPhone(phone) {
			t.Fatalf("expected %q invalid", phone)
		}
	}
}

func TestPassword(t *testing.T) {
	// base64("174379" + "passkey" + "20200101120000")
	got := Password("174379", "passkey", "20200101120000")
	want := "MTc0Mzc5cGFzc2tleTIwMjAwMTAxMTIwMDAw"
	if got != want {
		t.Fatalf("password mismatch: got %q want %q", got, want)
	}
}
