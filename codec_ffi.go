/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Codec FFI Exports
 * 本端注册的编解码器查询
 */
package main

/*
#include <stdlib.h>
*/
import "C"

import (
	"encoding/json"

	"github.com/maiguangyang/classroom_core/pkg/media"
)

// codecJSON 序列化编解码器列表
func codecJSON(codecs []media.CodecInfo) *C.char {
	result := make([]map[string]interface{}, len(codecs))
	for i, codec := range codecs {
		result[i] = map[string]interface{}{
			"type":         string(codec.Type),
			"mime_type":    codec.MimeType,
			"clock_rate":   codec.ClockRate,
			"channels":     codec.Channels,
			"payload_type": codec.PayloadType,
		}
	}

	data, _ := json.Marshal(result)
	return C.CString(string(data))
}

// CodecGetSupportedVideo 获取支持的视频编解码器列表
//
//export CodecGetSupportedVideo
func CodecGetSupportedVideo() *C.char {
	return codecJSON(media.NewCodecRegistry().GetVideoCodecs())
}

// CodecGetSupportedAudio 获取支持的音频编解码器列表
//
//export CodecGetSupportedAudio
func CodecGetSupportedAudio() *C.char {
	return codecJSON(media.NewCodecRegistry().GetAudioCodecs())
}

// CodecParseType 解析 MimeType 获取编解码器类型
//
//export CodecParseType
func CodecParseType(mimeType *C.char) *C.char {
	codecType := media.ParseMimeType(C.GoString(mimeType))
	return C.CString(string(codecType))
}

// CodecIsVideo 判断是否是视频编解码器
//
//export CodecIsVideo
func CodecIsVideo(codecType *C.char) C.int {
	if media.IsVideoCodec(media.CodecType(C.GoString(codecType))) {
		return C.int(1)
	}
	return C.int(0)
}

// CodecIsAudio 判断是否是音频编解码器
//
//export CodecIsAudio
func CodecIsAudio(codecType *C.char) C.int {
	if media.IsAudioCodec(media.CodecType(C.GoString(codecType))) {
		return C.int(1)
	}
	return C.int(0)
}
