// ABOUTME: Built-in strings, welcome messages, and prompt templates
// ABOUTME: Used when an agent pack is absent or leaves a language or key undefined

package agentpack

import "fmt"

// BaselineLanguage is the last stop of every language fallback chain.
const BaselineLanguage = "en"

// String keys the dialog looks up.
const (
	KeyRootTitle          = "ROOT_TITLE"
	KeyLogout             = "LOGOUT"
	KeyCredential         = "CREDENTIAL"
	KeyWelcome            = "WELCOME"
	KeyLoginRequired      = "LOGIN_REQUIRED"
	KeyAuthRequired       = "AUTH_REQUIRED"
	KeyAuthSuccess        = "AUTH_SUCCESS"
	KeyAuthSuccessName    = "AUTH_SUCCESS_NAME"
	KeyWaitingCredential  = "WAITING_CREDENTIAL"
	KeyAuthProcessStarted = "AUTH_PROCESS_STARTED"
	KeyStatsError         = "STATS_ERROR"
	KeyErrorMessages      = "ERROR_MESSAGES"
)

// DefaultWelcomeTemplateKey names the language-block field holding the welcome text.
const DefaultWelcomeTemplateKey = "welcomeMessage"

var defaultTranslations = map[string]map[string]string{
	"en": {
		KeyRootTitle:          "Welcome!",
		KeyLogout:             "Logout",
		KeyCredential:         "Authenticate",
		KeyWelcome:            "Welcome! I am Agent, your smart agent.",
		KeyLoginRequired:      "Please log in to continue.",
		KeyAuthRequired:       "Authentication is required to access this feature.",
		KeyAuthSuccess:        "Authentication completed successfully. You can now access all features.",
		KeyAuthSuccessName:    "Authentication successful. Welcome, {name}! you can now access all features.",
		KeyWaitingCredential:  "Waiting for you to complete the credential process...",
		KeyAuthProcessStarted: "Authentication process has started. Please respond to the credential request.",
		KeyStatsError:         "Sorry, we could not retrieve your statistics at the moment.",
		KeyErrorMessages:      "The service is not available at the moment. Please try again later.",
	},
	"es": {
		KeyRootTitle:          "¡Bienvenido!",
		KeyLogout:             "Cerrar sesión",
		KeyCredential:         "Autenticar",
		KeyWelcome:            "¡Bienvenido! Soy Agent, tu agente inteligente.",
		KeyAuthRequired:       "Se requiere autenticación para acceder a esta función.",
		KeyAuthSuccess:        "Autenticación completada con éxito. Ahora puedes acceder a todas las funciones.",
		KeyAuthSuccessName:    "Autenticación completada con éxito. ¡Bienvenido, {name}! ahora puedes acceder a todas las funciones.",
		KeyWaitingCredential:  "Esperando que completes el proceso de credencial...",
		KeyAuthProcessStarted: "El proceso de autenticación ha comenzado. Por favor, responde a la solicitud de credencial.",
		KeyStatsError:         "Lo sentimos, no pudimos obtener tus estadísticas en este momento.",
		KeyErrorMessages:      "El servicio no está disponible en este momento. Por favor, intenta de nuevo más tarde.",
	},
	"fr": {
		KeyRootTitle:          "Bienvenue !",
		KeyLogout:             "Déconnexion",
		KeyCredential:         "Authentifier",
		KeyWelcome:            "Bienvenue ! Je suis Agent, votre agent intelligent.",
		KeyAuthRequired:       "L'authentification est requise pour accéder à cette fonctionnalité.",
		KeyAuthSuccess:        "Authentification réussie. Vous pouvez maintenant accéder à toutes les fonctionnalités.",
		KeyAuthSuccessName:    "Authentification réussie. Bienvenue, {name} ! Vous pouvez maintenant accéder à toutes les fonctionnalités.",
		KeyWaitingCredential:  "En attente de la fin du processus d'authentification...",
		KeyAuthProcessStarted: "Le processus d'authentification a commencé. Veuillez répondre à la demande de justificatif.",
		KeyStatsError:         "Désolé, nous n'avons pas pu récupérer vos statistiques pour le moment.",
		KeyErrorMessages:      "Le service n'est pas disponible pour le moment. Veuillez réessayer plus tard.",
	},
}

var defaultWelcomeMessages = map[string]string{
	"en": "Hi there! 👋 I'm Holo, your smart assistant here at Hologram. I'm here to help you explore everything Verana and Hologram have to offer.",
	"es": "¡Hola! 👋 Soy Holo, tu asistente inteligente en Hologram. Estoy aquí para ayudarte a descubrir todo lo que ofrecen Verana y Hologram.",
	"fr": "Bonjour ! 👋 Je suis Holo, votre assistant intelligent sur Hologram. Je suis là pour vous aider à découvrir tout ce que Verana et Hologram ont à offrir.",
	"pt": "Olá! 👋 Eu sou o Holo, seu assistente inteligente na Hologram. Estou aqui para te ajudar a explorar tudo que a Verana e a Hologram oferecem.",
}

// promptTemplates take the retrieved context and the question, in that order.
var promptTemplates = map[string]string{
	"en": "Use the following information as context to answer the user's question.\nContext:\n%s\nQuestion: %s\nRespond clearly and briefly in English.",
	"es": "Usa la siguiente información como contexto para responder la pregunta del usuario.\nContexto:\n%s\nPregunta: %s\nResponde de forma clara y breve en español.",
	"fr": "Utilise les informations suivantes comme contexte pour répondre à la question de l'utilisateur.\nContexte :\n%s\nQuestion : %s\nRéponds de manière claire et concise en français.",
}

func defaultPrompt(lang, context, question string) string {
	tmpl, ok := promptTemplates[lang]
	if !ok {
		tmpl = promptTemplates[BaselineLanguage]
	}
	return fmt.Sprintf(tmpl, context, question)
}

// defaultMenu is offered when the pack defines no menu items.
func defaultMenu() []MenuItem {
	return []MenuItem{
		{ID: ActionAuthenticate, LabelKey: KeyCredential, Action: ActionAuthenticate, VisibleWhen: VisibleUnauthenticated},
		{ID: ActionLogout, LabelKey: KeyLogout, Action: ActionLogout, VisibleWhen: VisibleAuthenticated},
	}
}
