// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package protocol

// sendMessageData is the fixed payload schema for send-message commands
type sendMessageData struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
}

type sendImageData struct {
	PhoneNumber  string `json:"phoneNumber"`
	ImageDataURL string `json:"imageDataUrl"`
	Caption      string `json:"caption"`
}

type sendVideoData struct {
	PhoneNumber  string `json:"phoneNumber"`
	VideoDataURL string `json:"videoDataUrl"`
	Caption      string `json:"caption"`
}

type sendDocumentData struct {
	PhoneNumber     string `json:"phoneNumber"`
	DocumentDataURL string `json:"documentDataUrl"`
	DocumentName    string `json:"documentName"`
	Caption         string `json:"caption"`
}

// BuildSendMessage creates a send-message command envelope
func BuildSendMessage(requestID, phoneNumber, message string) *CommandEnvelope {
	return &CommandEnvelope{
		Type:      TypeSendMessage,
		RequestID: requestID,
		Data: sendMessageData{
			PhoneNumber: phoneNumber,
			Message:     message,
		},
	}
}

// BuildSendImage creates a send-image command envelope
func BuildSendImage(requestID, phoneNumber, imageDataURL, caption string) *CommandEnvelope {
	return &CommandEnvelope{
		Type:      TypeSendImage,
		RequestID: requestID,
		Data: sendImageData{
			PhoneNumber:  phoneNumber,
			ImageDataURL: imageDataURL,
			Caption:      caption,
		},
	}
}

// BuildSendVideo creates a send-video command envelope
func BuildSendVideo(requestID, phoneNumber, videoDataURL, caption string) *CommandEnvelope {
	return &CommandEnvelope{
		Type:      TypeSendVideo,
		RequestID: requestID,
		Data: sendVideoData{
			PhoneNumber:  phoneNumber,
			VideoDataURL: videoDataURL,
			Caption:      caption,
		},
	}
}

// BuildSendDocument creates a send-document command envelope
func BuildSendDocument(requestID, phoneNumber, documentDataURL, documentName, caption string) *CommandEnvelope {
	return &CommandEnvelope{
		Type:      TypeSendDocument,
		RequestID: requestID,
		Data: sendDocumentData{
			PhoneNumber:     phoneNumber,
			DocumentDataURL: documentDataURL,
			DocumentName:    documentName,
			Caption:         caption,
		},
	}
}

// BuildAuthSuccess creates an auth-success envelope carrying the session id
func BuildAuthSuccess(sessionID string) *AuthSuccessEnvelope {
	return &AuthSuccessEnvelope{
		Type:      TypeAuthSuccess,
		SessionID: sessionID,
	}
}

// BuildError creates an error envelope with a code and message
func BuildError(code, message string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Type: TypeError,
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	}
}

// BuildPing creates a ping envelope
func BuildPing() *PingEnvelope {
	return &PingEnvelope{Type: TypePing}
}
