package grpc

import (
	"context"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"

	"campuscart/chat-service/internal/apperr"
	"campuscart/chat-service/internal/models"
	"campuscart/chat-service/internal/service"

	pb "github.com/kegazani/metachat-proto/chat"
)

// ChatServer exposes the chat core to other marketplace backends. Unlike the
// REST surface it addresses conversations by their storage id.
type ChatServer struct {
	pb.UnimplementedChatServiceServer
	service service.ChatService
	logger  *logrus.Logger
}

func NewChatServer(svc service.ChatService, logger *logrus.Logger) *ChatServer {
	return &ChatServer{
		service: svc,
		logger:  logger,
	}
}

// toStatus converts a service error into a gRPC status. Storage detail is
// not leaked to callers.
func toStatus(err error) error {
	msg := apperr.MessageOf(err)
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return status.Error(codes.InvalidArgument, msg)
	case apperr.KindNotFound:
		return status.Error(codes.NotFound, msg)
	case apperr.KindAuth:
		return status.Error(codes.Unauthenticated, msg)
	case apperr.KindForbidden:
		return status.Error(codes.PermissionDenied, msg)
	case apperr.KindStorage, apperr.KindChannel:
		return status.Error(codes.Unavailable, msg)
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func (s *ChatServer) CreateChat(ctx context.Context, req *pb.CreateChatRequest) (*pb.CreateChatResponse, error) {
	s.logger.WithFields(logrus.Fields{
		"user_id1": req.UserId1,
		"user_id2": req.UserId2,
	}).Info("Creating chat via gRPC")

	chat, err := s.service.CreateChat(ctx, req.UserId1, req.UserId2)
	if err != nil {
		s.logger.WithError(err).Error("Failed to create chat")
		return nil, toStatus(err)
	}

	return &pb.CreateChatResponse{
		Chat: chatToProto(chat),
	}, nil
}

func (s *ChatServer) GetChat(ctx context.Context, req *pb.GetChatRequest) (*pb.GetChatResponse, error) {
	s.logger.WithField("chat_id", req.ChatId).Debug("Getting chat via gRPC")

	chat, err := s.service.GetChat(ctx, req.ChatId)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to get chat")
		return nil, toStatus(err)
	}

	return &pb.GetChatResponse{
		Chat: chatToProto(chat),
	}, nil
}

func (s *ChatServer) GetUserChats(ctx context.Context, req *pb.GetUserChatsRequest) (*pb.GetUserChatsResponse, error) {
	s.logger.WithField("user_id", req.UserId).Debug("Getting user chats via gRPC")

	if req.UserId == "" {
		return nil, status.Error(codes.InvalidArgument, "user ID required")
	}

	chats, err := s.service.GetUserChats(ctx, req.UserId)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get user chats")
		return nil, toStatus(err)
	}

	protoChats := make([]*pb.Chat, len(chats))
	for i, c := range chats {
		protoChats[i] = chatToProto(c)
	}

	return &pb.GetUserChatsResponse{
		Chats: protoChats,
	}, nil
}

func (s *ChatServer) SendMessage(ctx context.Context, req *pb.SendMessageRequest) (*pb.SendMessageResponse, error) {
	s.logger.WithFields(logrus.Fields{
		"chat_id":   req.ChatId,
		"sender_id": req.SenderId,
	}).Info("Sending message via gRPC")

	msg, err := s.service.SendToChat(ctx, req.ChatId, req.SenderId, req.Content)
	if err != nil {
		s.logger.WithError(err).Error("Failed to send message")
		return nil, toStatus(err)
	}

	return &pb.SendMessageResponse{
		Message: messageToProto(msg),
	}, nil
}

func (s *ChatServer) GetChatMessages(ctx context.Context, req *pb.GetChatMessagesRequest) (*pb.GetChatMessagesResponse, error) {
	s.logger.WithField("chat_id", req.ChatId).Debug("Getting chat messages via gRPC")

	messages, err := s.service.GetChatMessages(ctx, req.ChatId, int(req.Limit), req.BeforeMessageId)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get chat messages")
		return nil, toStatus(err)
	}

	protoMessages := make([]*pb.Message, len(messages))
	for i, m := range messages {
		protoMessages[i] = messageToProto(m)
	}

	return &pb.GetChatMessagesResponse{
		Messages: protoMessages,
	}, nil
}

// MarkMessagesAsRead is not served: read state lives on the client.
func (s *ChatServer) MarkMessagesAsRead(ctx context.Context, req *pb.MarkMessagesAsReadRequest) (*pb.MarkMessagesAsReadResponse, error) {
	return nil, status.Error(codes.Unimplemented, "read state is tracked by clients")
}

func chatToProto(chat *models.Conversation) *pb.Chat {
	return &pb.Chat{
		Id:        chat.ID,
		UserId1:   chat.UserLow,
		UserId2:   chat.UserHigh,
		CreatedAt: timestamppb.New(chat.CreatedAt),
		UpdatedAt: timestamppb.New(chat.UpdatedAt),
	}
}

func messageToProto(msg *models.Message) *pb.Message {
	return &pb.Message{
		Id:        msg.ID,
		ChatId:    msg.ConversationID,
		SenderId:  msg.Sender,
		Content:   msg.Content,
		CreatedAt: timestamppb.New(msg.CreatedAt),
	}
}
